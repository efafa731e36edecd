// Package economy registers the native token transfer handler.
package economy

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
	vm.Register(core.TxTransfer, vm.Typed(handleTransfer))
}

func handleTransfer(ctx *vm.Context, p core.TransferPayload) error {
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if !crypto.IsIdentity(p.To) || p.To == marketplace.EscrowAddress {
		return fmt.Errorf("invalid transfer recipient %q", p.To)
	}

	if err := ctx.Bank.Transfer(ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}
