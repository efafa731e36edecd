package marketplace

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolmarket/accounts"
	"github.com/tolelom/tolmarket/assets"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/storage"
)

const (
	operator = "operator"
	alice    = "alice"
	bob      = "bob"
	carol    = "carol"
	coll     = "punks"
)

type fixture struct {
	db     *testutil.MemDB
	state  *storage.StateDB
	reg    *assets.Registry
	bank   *accounts.Bank
	ledger *Ledger
	events []events.Event
}

// newFixture builds a ledger over a fresh in-memory state with alice holding
// asset "1" (approved for escrow) and bob funded with 10_000.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: testutil.NewMemDB()}
	f.state = storage.NewStateDB(f.db)
	f.reg = assets.New(f.state)
	f.bank = accounts.New(f.state)

	_, err := f.reg.RegisterCollection(alice, coll, "Punks")
	require.NoError(t, err)
	_, err = f.reg.Mint(alice, coll, "1", alice, "ipfs://1", 0)
	require.NoError(t, err)
	require.NoError(t, f.reg.SetApprovalForAll(alice, EscrowAddress, true))
	require.NoError(t, f.bank.Credit(bob, 10_000))
	require.NoError(t, f.state.Commit())

	f.ledger = f.open(t, f.reg.Spender(EscrowAddress))
	return f
}

func (f *fixture) open(t *testing.T, reg AssetRegistry) *Ledger {
	t.Helper()
	l := New(f.state, reg, f.bank, FixedOperator(operator), nil)
	require.NoError(t, l.Init())
	l.Emitter().SubscribeAll(func(ev events.Event) { f.events = append(f.events, ev) })
	return l
}

func (f *fixture) balance(t *testing.T, addr string) uint64 {
	t.Helper()
	b, err := f.bank.Balance(addr)
	require.NoError(t, err)
	return b
}

func (f *fixture) owner(t *testing.T, id string) string {
	t.Helper()
	o, err := f.reg.OwnerOf(coll, id)
	require.NoError(t, err)
	return o
}

func TestInitDefaults(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultFeeRate, f.ledger.FeeRate())
	assert.Zero(t, f.ledger.TotalListings())
	assert.Zero(t, f.ledger.TotalSales())
	assert.Equal(t, operator, f.ledger.Info().Operator)
}

func TestOperationsBeforeInit(t *testing.T) {
	l := New(testutil.NewStateDB(), nil, nil, FixedOperator(operator), nil)
	assert.ErrorIs(t, l.List(alice, coll, "1", 1), ErrNotInitialized)
	_, err := l.Listing(coll, "1")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestListMovesAssetIntoEscrow(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	assert.Equal(t, EscrowAddress, f.owner(t, "1"))
	assert.EqualValues(t, 1, f.ledger.TotalListings())

	l, err := f.ledger.Listing(coll, "1")
	require.NoError(t, err)
	assert.Equal(t, alice, l.Seller)
	assert.EqualValues(t, 1000, l.Price)
	assert.True(t, l.Active)

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, events.EventListed, ev.Type)
	assert.Equal(t, alice, ev.Data["seller"])
	assert.Equal(t, coll, ev.Data["collection"])
	assert.Equal(t, "1", ev.Data["asset_id"])
	assert.Equal(t, uint64(1000), ev.Data["price"])
}

func TestListRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.List(bob, coll, "1", 1000)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, alice, f.owner(t, "1"))
	assert.Zero(t, f.ledger.TotalListings())
	assert.Empty(t, f.events)
}

func TestListTwiceFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	// The asset now sits in escrow, so alice no longer holds it.
	assert.ErrorIs(t, f.ledger.List(alice, coll, "1", 2000), ErrUnauthorized)
	assert.EqualValues(t, 1, f.ledger.TotalListings())
}

func TestListWithoutApprovalFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.SetApprovalForAll(alice, EscrowAddress, false))
	require.NoError(t, f.state.Commit())
	root := f.state.ComputeRoot()

	err := f.ledger.List(alice, coll, "1", 1000)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, root, f.state.ComputeRoot())
	assert.Zero(t, f.ledger.TotalListings())
	_, err = f.ledger.Listing(coll, "1")
	assert.ErrorIs(t, err, ErrNotListed)
	assert.Empty(t, f.events)
}

func TestChangePrice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	require.NoError(t, f.ledger.ChangePrice(alice, coll, "1", 1500))
	l, err := f.ledger.Listing(coll, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1500, l.Price)
	assert.EqualValues(t, 1, f.ledger.TotalListings())
	ev := f.events[len(f.events)-1]
	assert.Equal(t, events.EventPriceChanged, ev.Type)
	assert.Equal(t, alice, ev.Data["seller"])
	assert.Equal(t, uint64(1500), ev.Data["new_price"])
	assert.NotContains(t, ev.Data, "price")

	assert.ErrorIs(t, f.ledger.ChangePrice(bob, coll, "1", 1), ErrUnauthorized)
	assert.ErrorIs(t, f.ledger.ChangePrice(alice, coll, "2", 1), ErrNotListed)
}

func TestUnlistReturnsAsset(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	assert.ErrorIs(t, f.ledger.Unlist(bob, coll, "1"), ErrUnauthorized)
	require.NoError(t, f.ledger.Unlist(alice, coll, "1"))

	ev := f.events[len(f.events)-1]
	assert.Equal(t, events.EventUnlisted, ev.Type)
	assert.Equal(t, alice, ev.Data["seller"])
	assert.Equal(t, coll, ev.Data["collection"])
	assert.Equal(t, "1", ev.Data["asset_id"])

	assert.Equal(t, alice, f.owner(t, "1"))
	assert.Zero(t, f.ledger.TotalListings())
	_, err := f.ledger.Listing(coll, "1")
	assert.ErrorIs(t, err, ErrNotListed)
	assert.ErrorIs(t, f.ledger.Unlist(alice, coll, "1"), ErrNotListed)

	// Relisting after an unlist is allowed.
	require.NoError(t, f.ledger.List(alice, coll, "1", 700))
	assert.EqualValues(t, 1, f.ledger.TotalListings())
}

func TestPurchaseSettlesEveryParty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	q, err := f.ledger.Quote(coll, "1")
	require.NoError(t, err)
	assert.Equal(t, Quote{Price: 1000, Fee: 10, Total: 1010, FeeRate: 100}, q)

	assert.ErrorIs(t, f.ledger.Purchase(bob, coll, "1", 1009), ErrInsufficientPayment)
	require.NoError(t, f.ledger.Purchase(bob, coll, "1", 1010))

	assert.Equal(t, bob, f.owner(t, "1"))
	assert.EqualValues(t, 1000, f.balance(t, alice))
	assert.EqualValues(t, 10, f.balance(t, operator))
	assert.EqualValues(t, 10_000-1010, f.balance(t, bob))
	assert.Zero(t, f.balance(t, EscrowAddress))
	assert.Zero(t, f.ledger.TotalListings())
	assert.EqualValues(t, 1, f.ledger.TotalSales())

	ev := f.events[len(f.events)-1]
	assert.Equal(t, events.EventPurchased, ev.Type)
	assert.Equal(t, bob, ev.Data["buyer"])
	assert.Equal(t, alice, ev.Data["seller"])
	assert.Equal(t, uint64(1000), ev.Data["price"])

	// The listing is gone for everyone after the sale.
	assert.ErrorIs(t, f.ledger.Purchase(carol, coll, "1", 5000), ErrNotListed)
	assert.ErrorIs(t, f.ledger.Unlist(alice, coll, "1"), ErrNotListed)
	assert.ErrorIs(t, f.ledger.ChangePrice(alice, coll, "1", 1), ErrNotListed)
}

func TestPurchaseRefundsOverpayment(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	require.NoError(t, f.ledger.Purchase(bob, coll, "1", 5000))

	assert.EqualValues(t, 10_000-1010, f.balance(t, bob))
	assert.EqualValues(t, 1000, f.balance(t, alice))
	assert.EqualValues(t, 10, f.balance(t, operator))
}

func TestPurchaseWithoutFundsFailsCleanly(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	root := f.state.ComputeRoot()
	n := len(f.events)

	err := f.ledger.Purchase(carol, coll, "1", 1010)
	assert.ErrorIs(t, err, ErrSettlementFailed)
	assert.ErrorIs(t, err, accounts.ErrInsufficientBalance)
	assert.Equal(t, root, f.state.ComputeRoot())
	assert.EqualValues(t, 1, f.ledger.TotalListings())
	assert.Len(t, f.events, n)
}

func TestZeroFeeAndZeroPrice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.SetFeeRate(operator, 0))
	require.NoError(t, f.ledger.List(alice, coll, "1", 0))
	require.NoError(t, f.ledger.Purchase(bob, coll, "1", 0))

	assert.Equal(t, bob, f.owner(t, "1"))
	assert.EqualValues(t, 10_000, f.balance(t, bob))
	assert.Zero(t, f.balance(t, operator))
}

func TestSetFeeRate(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.ledger.SetFeeRate(alice, 50), ErrUnauthorized)
	assert.ErrorIs(t, f.ledger.SetFeeRate(operator, MaxFeeRate+1), ErrInvalidFeeRate)
	assert.Equal(t, DefaultFeeRate, f.ledger.FeeRate())

	require.NoError(t, f.ledger.SetFeeRate(operator, MaxFeeRate))
	assert.Equal(t, MaxFeeRate, f.ledger.FeeRate())

	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	q, err := f.ledger.Quote(coll, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, q.Fee)
	assert.EqualValues(t, 2000, q.Total)
}

// failingRegistry delegates to a real registry but refuses transfers out of
// escrow once armed.
type failingRegistry struct {
	AssetRegistry
	armed bool
}

func (r *failingRegistry) Transfer(collection, id, from, to string) error {
	if r.armed && from == EscrowAddress {
		return errors.New("registry unavailable")
	}
	return r.AssetRegistry.Transfer(collection, id, from, to)
}

func TestPurchaseDeliveryFailureRevertsPayments(t *testing.T) {
	f := newFixture(t)
	reg := &failingRegistry{AssetRegistry: f.reg.Spender(EscrowAddress)}
	f.ledger = f.open(t, reg)

	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	root := f.state.ComputeRoot()
	n := len(f.events)

	reg.armed = true
	err := f.ledger.Purchase(bob, coll, "1", 1010)
	assert.ErrorIs(t, err, ErrSettlementFailed)

	assert.Equal(t, root, f.state.ComputeRoot())
	assert.EqualValues(t, 10_000, f.balance(t, bob))
	assert.Zero(t, f.balance(t, alice))
	assert.Zero(t, f.balance(t, operator))
	assert.Equal(t, EscrowAddress, f.owner(t, "1"))
	assert.EqualValues(t, 1, f.ledger.TotalListings())
	assert.Zero(t, f.ledger.TotalSales())
	assert.Len(t, f.events, n)

	_, err = f.ledger.Listing(coll, "1")
	assert.NoError(t, err)
}

func TestUnlistWithdrawFailureKeepsListing(t *testing.T) {
	f := newFixture(t)
	reg := &failingRegistry{AssetRegistry: f.reg.Spender(EscrowAddress)}
	f.ledger = f.open(t, reg)

	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	root := f.state.ComputeRoot()
	n := len(f.events)

	reg.armed = true
	assert.ErrorIs(t, f.ledger.Unlist(alice, coll, "1"), ErrTransferFailed)

	assert.Equal(t, root, f.state.ComputeRoot())
	assert.EqualValues(t, 1, f.ledger.TotalListings())
	assert.Equal(t, EscrowAddress, f.owner(t, "1"))
	assert.Len(t, f.events, n)
	l, err := f.ledger.Listing(coll, "1")
	require.NoError(t, err)
	assert.Equal(t, alice, l.Seller)
	assert.EqualValues(t, 1000, l.Price)

	reg.armed = false
	require.NoError(t, f.ledger.Unlist(alice, coll, "1"))
	assert.Equal(t, alice, f.owner(t, "1"))
}

// finishes fails the test if fn has not returned within two seconds.
func finishes(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ledger call did not return")
	}
}

func TestObserverReadsDuringConcurrentWrite(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Mint(alice, coll, "2", alice, "", 0)
	require.NoError(t, err)
	require.NoError(t, f.state.Commit())

	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	var seen []uint64
	var mu sync.Mutex
	f.ledger.Emitter().Subscribe(events.EventListed, func(events.Event) {
		entered <- struct{}{}
		<-release
		n := f.ledger.TotalListings()
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	finishes(t, func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.ledger.List(alice, coll, "1", 100))
		}()
		<-entered
		// The first observer is parked; a second writer must still commit.
		go func() {
			defer wg.Done()
			assert.NoError(t, f.ledger.List(alice, coll, "2", 200))
		}()
		assert.Eventually(t, func() bool { return f.ledger.TotalListings() == 2 },
			time.Second, 5*time.Millisecond)
		close(release)
		wg.Wait()
	})

	assert.EqualValues(t, 2, f.ledger.TotalListings())
	assert.Equal(t, []uint64{2, 2}, seen)
}

func TestObserverMayWriteToLedger(t *testing.T) {
	f := newFixture(t)
	f.ledger.Emitter().Subscribe(events.EventListed, func(ev events.Event) {
		assert.NoError(t, f.ledger.ChangePrice(alice, coll, ev.Data["asset_id"].(string), 1234))
	})

	finishes(t, func() {
		assert.NoError(t, f.ledger.List(alice, coll, "1", 1000))
	})

	l, err := f.ledger.Listing(coll, "1")
	require.NoError(t, err)
	assert.EqualValues(t, 1234, l.Price)

	var types []events.EventType
	for _, ev := range f.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []events.EventType{events.EventListed, events.EventPriceChanged}, types)
}

func TestCommitFailureLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t)
	f.db.FailWrites = true

	err := f.ledger.List(alice, coll, "1", 1000)
	require.Error(t, err)
	assert.Zero(t, f.ledger.TotalListings())
	assert.Empty(t, f.events)

	f.db.FailWrites = false
	assert.Equal(t, alice, f.owner(t, "1"))
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))
}

func TestConcurrentPurchasesSettleOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Credit(carol, 10_000))
	require.NoError(t, f.state.Commit())
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, buyer := range []string{bob, carol} {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			errs[i] = f.ledger.Purchase(buyer, coll, "1", 1010)
		}(i, buyer)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrNotListed)
		}
	}
	assert.Equal(t, 1, ok)
	assert.EqualValues(t, 1, f.ledger.TotalSales())
	assert.EqualValues(t, 1000, f.balance(t, alice))
	assert.EqualValues(t, 20_000-1010, f.balance(t, bob)+f.balance(t, carol))
}

func TestUpdateBatchesOperations(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Mint(alice, coll, "2", alice, "", 0)
	require.NoError(t, err)
	require.NoError(t, f.state.Commit())

	err = f.ledger.Update(func(txn *Txn) error {
		txn.Tag("tx-1")
		if err := txn.List(alice, coll, "1", 10); err != nil {
			return err
		}
		return txn.List(alice, coll, "2", 20)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.ledger.TotalListings())
	require.Len(t, f.events, 2)
	assert.Equal(t, "tx-1", f.events[1].TxID)

	// A failing second step discards the first.
	err = f.ledger.Update(func(txn *Txn) error {
		if err := txn.Unlist(alice, coll, "1"); err != nil {
			return err
		}
		return txn.Unlist(bob, coll, "2")
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualValues(t, 2, f.ledger.TotalListings())
	assert.Equal(t, EscrowAddress, f.owner(t, "1"))
	assert.Len(t, f.events, 2)
}

func TestReopenKeepsState(t *testing.T) {
	f := newFixture(t)
	f.ledger.now = func() time.Time { return time.Unix(42, 0) }
	require.NoError(t, f.ledger.SetFeeRate(operator, 250))
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	state := storage.NewStateDB(f.db)
	reg := assets.New(state)
	l := New(state, reg.Spender(EscrowAddress), accounts.New(state), FixedOperator(operator), nil)
	require.NoError(t, l.Init())

	assert.EqualValues(t, 250, l.FeeRate())
	assert.EqualValues(t, 1, l.TotalListings())
	listing, err := l.Listing(coll, "1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(42, 0).UnixNano(), listing.ListedAt)

	other := New(state, reg.Spender(EscrowAddress), accounts.New(state), FixedOperator("mallory"), nil)
	assert.ErrorIs(t, other.Init(), ErrOperatorMismatch)
}

func TestInitialized(t *testing.T) {
	state := testutil.NewStateDB()
	l := New(state, nil, accounts.New(state), FixedOperator(operator), nil)
	ok, err := l.Initialized()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Init())
	ok, err = l.Initialized()
	require.NoError(t, err)
	assert.True(t, ok)

	m, err := state.GetMarket()
	require.NoError(t, err)
	assert.Equal(t, core.MarketInfo{FeeRate: DefaultFeeRate, Operator: operator}, *m)
}

func TestComputeFee(t *testing.T) {
	cases := []struct {
		price, rate, want uint64
	}{
		{1000, 100, 10},
		{99, 100, 0},
		{12345, 250, 308},
		{1000, 0, 0},
		{1000, MaxFeeRate, 1000},
		{math.MaxUint64, MaxFeeRate, math.MaxUint64},
		{math.MaxUint64, 1, math.MaxUint64 / MaxFeeRate},
	}
	for _, c := range cases {
		got, err := ComputeFee(c.price, c.rate)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "price=%d rate=%d", c.price, c.rate)
	}

	_, err := ComputeFee(1, MaxFeeRate+1)
	assert.ErrorIs(t, err, ErrInvalidFeeRate)

	_, err = NewQuote(math.MaxUint64, 100)
	assert.ErrorIs(t, err, ErrInsufficientPayment)
}

// sticky reports a fixed owner regardless of transfers.
type sticky struct {
	AssetRegistry
	owner string
}

func (s sticky) OwnerOf(string, string) (string, error) { return s.owner, nil }

func TestListRejectsActiveListing(t *testing.T) {
	f := newFixture(t)
	f.ledger = f.open(t, sticky{AssetRegistry: f.reg.Spender(EscrowAddress), owner: alice})
	require.NoError(t, f.ledger.List(alice, coll, "1", 1000))

	err := f.ledger.List(alice, coll, "1", 2000)
	assert.ErrorIs(t, err, ErrAlreadyListed)
	assert.EqualValues(t, 1, f.ledger.TotalListings())
}
