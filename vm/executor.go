package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/assets"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/marketplace"
)

const (
	maxTxAge    = time.Hour       // reject txs older than 1 hour
	maxTxFuture = 5 * time.Minute // reject txs more than 5 min in the future
)

var (
	ErrBadSignature  = errors.New("invalid signature")
	ErrWrongChain    = errors.New("wrong chain id")
	ErrTxExpired     = errors.New("transaction expired")
	ErrTxFuture      = errors.New("transaction timestamp too far in the future")
	ErrDuplicateTx   = errors.New("duplicate transaction")
	ErrUnknownTxType = errors.New("unknown tx type")
)

// Context is passed to every Handler. Handlers act as Tx.From and write only
// through Txn, Assets and Bank, which all share the ledger's state.
type Context struct {
	Tx     *core.Transaction
	Txn    *marketplace.Txn
	Assets *assets.Registry
	Bank   *accounts.Bank
}

// Emit queues a notification tagged with the tx ID.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	c.Txn.Emit(typ, data)
}

// Executor verifies signed transactions and applies them to the ledger
// using the global Handler registry.
type Executor struct {
	chainID  string
	ledger   *marketplace.Ledger
	assets   *assets.Registry
	bank     *accounts.Bank
	registry *Registry
	seen     *cache.Cache
	now      func() time.Time
}

// NewExecutor creates an Executor for chainID. assets and bank must be built
// over the same state as ledger.
func NewExecutor(chainID string, ledger *marketplace.Ledger, assets *assets.Registry, bank *accounts.Bank) *Executor {
	return &Executor{
		chainID:  chainID,
		ledger:   ledger,
		assets:   assets,
		bank:     bank,
		registry: handlers,
		seen:     cache.New(maxTxAge+maxTxFuture, 10*time.Minute),
		now:      time.Now,
	}
}

// ExecuteTx admits tx and applies it as one atomic ledger operation: the
// nonce bump, the handler's writes and its notifications all commit together
// or not at all.
func (e *Executor) ExecuteTx(tx *core.Transaction) error {
	if err := e.admit(tx); err != nil {
		return err
	}
	// Reserve the ID; Add fails if a concurrent copy got here first.
	if err := e.seen.Add(tx.ID, struct{}{}, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, tx.ID)
	}

	err := e.ledger.Update(func(txn *marketplace.Txn) error {
		txn.Tag(tx.ID)
		if err := e.bank.ConsumeNonce(tx.From, tx.Nonce); err != nil {
			return err
		}
		ctx := &Context{Tx: tx, Txn: txn, Assets: e.assets, Bank: e.bank}
		h, _ := e.registry.Lookup(tx.Type)
		if err := h(ctx, tx.Payload); err != nil {
			return err
		}
		txn.Emit(events.EventTxExecuted, map[string]any{"type": string(tx.Type), "from": tx.From})
		return nil
	})
	if err != nil {
		// A rejected tx may be resubmitted once its cause is fixed.
		e.seen.Delete(tx.ID)
		zap.L().With(zap.String("tx", tx.ID), zap.String("type", string(tx.Type)), zap.Error(err)).
			Debug("Transaction rejected")
		return err
	}
	return nil
}

// admit runs the stateless checks: signature, chain, freshness and type.
func (e *Executor) admit(tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	if tx.ID != tx.Hash() {
		return fmt.Errorf("%w: id does not match body", ErrBadSignature)
	}
	if tx.ChainID != e.chainID {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongChain, tx.ChainID, e.chainID)
	}
	now := e.now().UnixNano()
	if now-tx.Timestamp > int64(maxTxAge) {
		return ErrTxExpired
	}
	if tx.Timestamp-now > int64(maxTxFuture) {
		return ErrTxFuture
	}
	if _, ok := e.registry.Lookup(tx.Type); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
	return nil
}
