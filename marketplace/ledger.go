// Package marketplace implements the custodial listing/escrow/purchase ledger.
//
// Sellers deposit an asset into the marketplace escrow and list it at a
// price. A buyer pays price plus the fee; the seller receives the price, the
// operator the fee, and the buyer the asset, all in one atomic step.
package marketplace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
)

// EscrowAddress is the identity that holds custody of listed assets and
// routes purchase payments.
var EscrowAddress = crypto.SystemAddress("escrow")

// AssetRegistry reports and moves custody of assets.
type AssetRegistry interface {
	OwnerOf(collection, id string) (string, error)
	Transfer(collection, id, from, to string) error
}

// Bank moves value between identities.
type Bank interface {
	Transfer(from, to string, amount uint64) error
}

// Ledger owns the listings table, the fee rate and the counters.
//
// Collaborators that write must do so through the same core.State the ledger
// was built with: the ledger snapshots that state around every operation and
// reverts it on failure, which is what makes settlement all-or-nothing.
type Ledger struct {
	mu sync.Mutex // single writer: guards state and info

	qmu      sync.Mutex // guards queue and draining
	queue    []events.Event
	draining bool

	state    core.State
	assets   AssetRegistry
	bank     Bank
	operator Operator
	emitter  *events.Emitter
	now      func() time.Time

	info   core.MarketInfo
	inited bool
}

// New creates a Ledger. Call Init before use.
func New(state core.State, assets AssetRegistry, bank Bank, operator Operator, emitter *events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Ledger{
		state:    state,
		assets:   assets,
		bank:     bank,
		operator: operator,
		emitter:  emitter,
		now:      time.Now,
	}
}

// Initialized reports whether the underlying state already carries a
// marketplace record.
func (l *Ledger) Initialized() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.state.GetMarket()
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Init loads the marketplace record, creating it with DefaultFeeRate and the
// configured operator on a fresh state. The operator is fixed at first
// initialisation; reopening with a different one fails.
func (l *Ledger) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, err := l.state.GetMarket()
	switch {
	case errors.Is(err, core.ErrNotFound):
		m = &core.MarketInfo{FeeRate: DefaultFeeRate, Operator: l.operator.Address()}
		if err := l.state.SetMarket(m); err != nil {
			return err
		}
		if err := l.state.Commit(); err != nil {
			return fmt.Errorf("commit market info: %w", err)
		}
		zap.L().With(zap.String("operator", m.Operator), zap.Uint64("feeRate", m.FeeRate)).
			Info("Marketplace initialized")
	case err != nil:
		return fmt.Errorf("load market info: %w", err)
	case m.Operator != l.operator.Address():
		return fmt.Errorf("%w: state has %s, configured %s", ErrOperatorMismatch, m.Operator, l.operator.Address())
	}

	l.info = *m
	l.inited = true
	return nil
}

// Update runs fn as one atomic ledger operation: fn's writes are committed
// together if it returns nil and reverted otherwise. Notifications queued by
// fn are delivered only after a successful commit, in commit order, with no
// ledger lock held, so observers may read the ledger or call Update
// themselves. When another Update is already delivering, that call delivers
// these notifications too and this one returns without waiting for them.
func (l *Ledger) Update(fn func(*Txn) error) error {
	if err := l.update(fn); err != nil {
		return err
	}
	l.drain()
	return nil
}

func (l *Ledger) update(fn func(*Txn) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inited {
		return ErrNotInitialized
	}
	pending, err := l.apply(fn)
	if err != nil {
		return err
	}
	// Enqueued under mu, so queue order is commit order.
	l.qmu.Lock()
	l.queue = append(l.queue, pending...)
	l.qmu.Unlock()
	return nil
}

// drain delivers queued notifications. At most one caller delivers at a
// time; the others leave their notifications to it.
func (l *Ledger) drain() {
	l.qmu.Lock()
	if l.draining {
		l.qmu.Unlock()
		return
	}
	l.draining = true
	for len(l.queue) > 0 {
		batch := l.queue
		l.queue = nil
		l.qmu.Unlock()
		for _, ev := range batch {
			l.emitter.Emit(ev)
		}
		l.qmu.Lock()
	}
	l.draining = false
	l.qmu.Unlock()
}

// apply runs fn inside a state snapshot. Caller holds l.mu.
func (l *Ledger) apply(fn func(*Txn) error) (pending []events.Event, err error) {
	snap, err := l.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rerr := l.state.RevertToSnapshot(snap); rerr != nil {
			zap.L().With(zap.Error(rerr)).Error("Failed to revert ledger state")
			if err != nil {
				err = fmt.Errorf("%w (revert: %v)", err, rerr)
			}
		}
	}()

	info := l.info
	txn := &Txn{Reader: Reader{l: l, info: &info}}
	if err := fn(txn); err != nil {
		return nil, err
	}
	if txn.infoDirty {
		if err := l.state.SetMarket(&info); err != nil {
			return nil, err
		}
	}
	if err := l.state.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	l.info = info
	return txn.pending, nil
}

// View runs fn with read access under the writer lock.
func (l *Ledger) View(fn func(*Reader) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inited {
		return ErrNotInitialized
	}
	info := l.info
	return fn(&Reader{l: l, info: &info})
}

// Emitter returns the emitter notifications are delivered on.
func (l *Ledger) Emitter() *events.Emitter {
	return l.emitter
}

// ---- single-operation entry points ----

// List deposits the asset into escrow and lists it at price.
func (l *Ledger) List(caller, collection, assetID string, price uint64) error {
	return l.Update(func(t *Txn) error { return t.List(caller, collection, assetID, price) })
}

// ChangePrice updates the price of an active listing.
func (l *Ledger) ChangePrice(caller, collection, assetID string, newPrice uint64) error {
	return l.Update(func(t *Txn) error { return t.ChangePrice(caller, collection, assetID, newPrice) })
}

// Unlist withdraws a listing and returns the asset to the caller.
func (l *Ledger) Unlist(caller, collection, assetID string) error {
	return l.Update(func(t *Txn) error { return t.Unlist(caller, collection, assetID) })
}

// Purchase settles a listing for buyer, who offers at most payment.
func (l *Ledger) Purchase(buyer, collection, assetID string, payment uint64) error {
	return l.Update(func(t *Txn) error { return t.Purchase(buyer, collection, assetID, payment) })
}

// SetFeeRate changes the fee rate. Operator only.
func (l *Ledger) SetFeeRate(caller string, newRate uint64) error {
	return l.Update(func(t *Txn) error { return t.SetFeeRate(caller, newRate) })
}

// FeeRate returns the current fee rate in basis points.
func (l *Ledger) FeeRate() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.FeeRate
}

// TotalListings returns the number of currently active listings.
func (l *Ledger) TotalListings() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.TotalListings
}

// TotalSales returns the number of completed purchases.
func (l *Ledger) TotalSales() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info.TotalSales
}

// Info returns a copy of the marketplace record.
func (l *Ledger) Info() core.MarketInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

// Listing returns the active listing for (collection, assetID).
func (l *Ledger) Listing(collection, assetID string) (*core.Listing, error) {
	var out *core.Listing
	err := l.View(func(r *Reader) error {
		var err error
		out, err = r.Listing(collection, assetID)
		return err
	})
	return out, err
}

// Quote prices the active listing for (collection, assetID).
func (l *Ledger) Quote(collection, assetID string) (Quote, error) {
	var out Quote
	err := l.View(func(r *Reader) error {
		var err error
		out, err = r.Quote(collection, assetID)
		return err
	})
	return out, err
}
