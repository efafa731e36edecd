// Package asset registers the asset registry transaction handlers:
// collections, minting, burning, direct transfers and operator approval.
package asset

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/marketplace"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxMintAsset, vm.Typed(handleMintAsset))
	vm.Register(core.TxBurnAsset, vm.Typed(handleBurnAsset))
	vm.Register(core.TxTransferAsset, vm.Typed(handleTransferAsset))
}

// validIdentity rejects recipients that are not ed25519 public keys so
// assets cannot be sent to an identity nobody can sign for.
func validIdentity(field, s string) error {
	if _, err := crypto.PubKeyFromHex(s); err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	return nil
}

func handleMintAsset(ctx *vm.Context, p core.MintAssetPayload) error {
	owner := p.Owner
	if owner == "" {
		owner = ctx.Tx.From
	} else if err := validIdentity("owner", owner); err != nil {
		return err
	}
	if owner == marketplace.EscrowAddress {
		return errors.New("cannot mint into escrow")
	}

	a, err := ctx.Assets.Mint(ctx.Tx.From, p.Collection, p.AssetID, owner, p.URI, ctx.Tx.Timestamp)
	if err != nil {
		return err
	}

	ctx.Emit(events.EventAssetMinted, map[string]any{
		"collection": a.Collection,
		"asset_id":   a.ID,
		"owner":      a.Owner,
	})
	return nil
}

func handleBurnAsset(ctx *vm.Context, p core.BurnAssetPayload) error {
	// Listed assets are held by escrow, so Burn's owner check already
	// refuses them.
	a, err := ctx.Assets.Burn(ctx.Tx.From, p.Collection, p.AssetID)
	if err != nil {
		return err
	}

	ctx.Emit(events.EventAssetBurned, map[string]any{
		"collection": a.Collection,
		"asset_id":   a.ID,
		"owner":      a.Owner,
	})
	return nil
}

func handleTransferAsset(ctx *vm.Context, p core.TransferAssetPayload) error {
	if err := validIdentity("to", p.To); err != nil {
		return err
	}
	if p.To == marketplace.EscrowAddress {
		return errors.New("assets enter escrow only by listing them")
	}

	from := ctx.Tx.From
	if err := ctx.Assets.Transfer(from, p.Collection, p.AssetID, from, p.To); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetTransfer, map[string]any{
		"collection": p.Collection,
		"asset_id":   p.AssetID,
		"from":       from,
		"to":         p.To,
	})
	return nil
}
