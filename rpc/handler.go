package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/assets"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/marketplace"
	"github.com/tolelom/tolmarket/vm"
)

// TxExecutor applies signed transactions.
type TxExecutor interface {
	ExecuteTx(tx *core.Transaction) error
}

// Handler holds all dependencies needed to serve RPC methods. Reads of the
// registry, the bank and the state run inside ledger.View so they never
// interleave with a ledger write.
type Handler struct {
	ledger *marketplace.Ledger
	assets *assets.Registry
	bank   *accounts.Bank
	state  core.State
	exec   TxExecutor
}

// NewHandler creates an RPC Handler. assets, bank and state must be the ones
// ledger was built over.
func NewHandler(ledger *marketplace.Ledger, assets *assets.Registry, bank *accounts.Bank, state core.State, exec TxExecutor) *Handler {
	return &Handler{ledger: ledger, assets: assets, bank: bank, state: state, exec: exec}
}

// Stats is the marketplace summary served by getStats and /v1/stats.
type Stats struct {
	FeeRate       uint64 `json:"fee_rate"`
	TotalListings uint64 `json:"total_listings"`
	TotalSales    uint64 `json:"total_sales"`
	Operator      string `json:"operator"`
	Escrow        string `json:"escrow"`
}

// Stats returns the current counters and fee rate.
func (h *Handler) Stats() Stats {
	info := h.ledger.Info()
	return Stats{
		FeeRate:       info.FeeRate,
		TotalListings: info.TotalListings,
		TotalSales:    info.TotalSales,
		Operator:      info.Operator,
		Escrow:        marketplace.EscrowAddress,
	}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "sendTx":
		return h.sendTx(req)

	case "getFeeRate":
		return okResponse(req.ID, h.ledger.FeeRate())

	case "getTotalListings":
		return okResponse(req.ID, h.ledger.TotalListings())

	case "getTotalSales":
		return okResponse(req.ID, h.ledger.TotalSales())

	case "getStats":
		return okResponse(req.ID, h.Stats())

	case "getTxTypes":
		return okResponse(req.ID, vm.Types())

	case "getEscrowAddress":
		return okResponse(req.ID, marketplace.EscrowAddress)

	case "getListing":
		return h.getListing(req)

	case "getQuote":
		return h.getQuote(req)

	case "getAsset":
		return h.getAsset(req)

	case "getCollection":
		return h.getCollection(req)

	case "getBalance", "getNonce":
		return h.getAccount(req)

	case "getStateRoot":
		return h.getStateRoot(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

type assetParams struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
}

func (p assetParams) validate() error {
	if p.Collection == "" || p.AssetID == "" {
		return errors.New("collection and asset_id are required")
	}
	return nil
}

func decodeAssetParams(req Request) (assetParams, *Response) {
	var p assetParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return p, &resp
	}
	if err := p.validate(); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return p, &resp
	}
	return p, nil
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.exec.ExecuteTx(&tx); err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func (h *Handler) getListing(req Request) Response {
	p, bad := decodeAssetParams(req)
	if bad != nil {
		return *bad
	}
	listing, err := h.ledger.Listing(p.Collection, p.AssetID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, listing)
}

func (h *Handler) getQuote(req Request) Response {
	p, bad := decodeAssetParams(req)
	if bad != nil {
		return *bad
	}
	q, err := h.ledger.Quote(p.Collection, p.AssetID)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, q)
}

func (h *Handler) getAsset(req Request) Response {
	p, bad := decodeAssetParams(req)
	if bad != nil {
		return *bad
	}
	var a *core.Asset
	err := h.ledger.View(func(*marketplace.Reader) error {
		var err error
		a, err = h.assets.Asset(p.Collection, p.AssetID)
		return err
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, a)
}

func (h *Handler) getCollection(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	var c *core.Collection
	err := h.ledger.View(func(*marketplace.Reader) error {
		var err error
		c, err = h.assets.Collection(params.ID)
		return err
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, c)
}

func (h *Handler) getAccount(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	var acc *core.Account
	err := h.ledger.View(func(*marketplace.Reader) error {
		var err error
		acc, err = h.bank.Account(params.Address)
		return err
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getStateRoot(req Request) Response {
	var root string
	err := h.ledger.View(func(*marketplace.Reader) error {
		root = h.state.ComputeRoot()
		return nil
	})
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return okResponse(req.ID, root)
}
