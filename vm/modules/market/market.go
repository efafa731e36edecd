// Package market registers the marketplace transaction handlers. Each one
// acts as Tx.From on the ledger transaction the executor opened.
package market

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxListNFT, vm.Typed(func(ctx *vm.Context, p core.ListNFTPayload) error {
		return ctx.Txn.List(ctx.Tx.From, p.Collection, p.AssetID, p.Price)
	}))
	vm.Register(core.TxChangePrice, vm.Typed(func(ctx *vm.Context, p core.ChangePricePayload) error {
		return ctx.Txn.ChangePrice(ctx.Tx.From, p.Collection, p.AssetID, p.Price)
	}))
	vm.Register(core.TxUnlistNFT, vm.Typed(func(ctx *vm.Context, p core.UnlistNFTPayload) error {
		return ctx.Txn.Unlist(ctx.Tx.From, p.Collection, p.AssetID)
	}))
	vm.Register(core.TxPurchaseNFT, vm.Typed(func(ctx *vm.Context, p core.PurchaseNFTPayload) error {
		return ctx.Txn.Purchase(ctx.Tx.From, p.Collection, p.AssetID, p.Payment)
	}))
	vm.Register(core.TxSetFeeRate, vm.Typed(func(ctx *vm.Context, p core.SetFeeRatePayload) error {
		return ctx.Txn.SetFeeRate(ctx.Tx.From, p.FeeRate)
	}))
}
