package asset

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxRegisterCollection, vm.Typed(handleRegisterCollection))
	vm.Register(core.TxSetApproval, vm.Typed(handleSetApproval))
}

func handleRegisterCollection(ctx *vm.Context, p core.RegisterCollectionPayload) error {
	c, err := ctx.Assets.RegisterCollection(ctx.Tx.From, p.ID, p.Name)
	if err != nil {
		return err
	}

	ctx.Emit(events.EventCollectionRegistered, map[string]any{
		"collection": c.ID,
		"name":       c.Name,
		"creator":    c.Creator,
	})
	return nil
}

func handleSetApproval(ctx *vm.Context, p core.SetApprovalPayload) error {
	if err := validIdentity("operator", p.Operator); err != nil {
		return err
	}

	if err := ctx.Assets.SetApprovalForAll(ctx.Tx.From, p.Operator, p.Approved); err != nil {
		return err
	}

	ctx.Emit(events.EventApprovalSet, map[string]any{
		"owner":    ctx.Tx.From,
		"operator": p.Operator,
		"approved": p.Approved,
	})
	return nil
}
