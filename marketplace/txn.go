package marketplace

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
)

// Reader gives read access to the ledger inside View or Update.
type Reader struct {
	l    *Ledger
	info *core.MarketInfo
}

// FeeRate returns the fee rate in basis points.
func (r *Reader) FeeRate() uint64 { return r.info.FeeRate }

// TotalListings returns the number of active listings.
func (r *Reader) TotalListings() uint64 { return r.info.TotalListings }

// TotalSales returns the number of completed purchases.
func (r *Reader) TotalSales() uint64 { return r.info.TotalSales }

// Operator returns the operator identity recorded at initialisation.
func (r *Reader) Operator() string { return r.info.Operator }

// Listing returns the active listing for the key or ErrNotListed.
func (r *Reader) Listing(collection, assetID string) (*core.Listing, error) {
	l, err := r.l.state.GetListing(collection, assetID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && !l.Active) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotListed, collection, assetID)
	}
	if err != nil {
		return nil, fmt.Errorf("load listing %s/%s: %w", collection, assetID, err)
	}
	return l, nil
}

// Quote prices the active listing at the current fee rate.
func (r *Reader) Quote(collection, assetID string) (Quote, error) {
	l, err := r.Listing(collection, assetID)
	if err != nil {
		return Quote{}, err
	}
	return NewQuote(l.Price, r.info.FeeRate)
}

// Txn is one atomic ledger operation in progress. Its writes and queued
// notifications take effect only if the enclosing Update succeeds.
type Txn struct {
	Reader
	txID      string
	infoDirty bool
	pending   []events.Event
}

// Tag attaches txID to every notification queued from now on.
func (t *Txn) Tag(txID string) { t.txID = txID }

// Emit queues a notification for delivery after commit.
func (t *Txn) Emit(typ events.EventType, data map[string]any) {
	ev := events.New(typ, data)
	ev.TxID = t.txID
	t.pending = append(t.pending, ev)
}

// authorize checks the caller's live custody of the asset. While the asset
// sits in escrow, custody belongs to the seller recorded on the listing.
func (t *Txn) authorize(caller, collection, assetID string, listing *core.Listing) error {
	owner, err := t.l.assets.OwnerOf(collection, assetID)
	if err != nil {
		return fmt.Errorf("%w: owner of %s/%s: %w", ErrUnauthorized, collection, assetID, err)
	}
	if caller != "" && owner == caller {
		return nil
	}
	if listing != nil && owner == EscrowAddress && listing.Seller == caller {
		return nil
	}
	return fmt.Errorf("%w: %s does not hold %s/%s", ErrUnauthorized, caller, collection, assetID)
}

// List moves the asset from caller into escrow and records the listing.
func (t *Txn) List(caller, collection, assetID string, price uint64) error {
	if err := t.authorize(caller, collection, assetID, nil); err != nil {
		return err
	}
	if _, err := t.Listing(collection, assetID); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyListed, collection, assetID)
	} else if !errors.Is(err, ErrNotListed) {
		return err
	}

	if err := t.l.assets.Transfer(collection, assetID, caller, EscrowAddress); err != nil {
		return fmt.Errorf("%w: deposit %s/%s: %w", ErrTransferFailed, collection, assetID, err)
	}

	listing := &core.Listing{
		Collection: collection,
		AssetID:    assetID,
		Seller:     caller,
		Price:      price,
		Active:     true,
		ListedAt:   t.l.now().UnixNano(),
	}
	if err := t.l.state.SetListing(listing); err != nil {
		return err
	}
	t.info.TotalListings++
	t.infoDirty = true

	t.Emit(events.EventListed, map[string]any{
		"seller":     caller,
		"collection": collection,
		"asset_id":   assetID,
		"price":      price,
	})
	return nil
}

// ChangePrice overwrites the price of an active listing.
func (t *Txn) ChangePrice(caller, collection, assetID string, newPrice uint64) error {
	listing, err := t.Listing(collection, assetID)
	if err != nil {
		return err
	}
	if err := t.authorize(caller, collection, assetID, listing); err != nil {
		return err
	}

	listing.Price = newPrice
	if err := t.l.state.SetListing(listing); err != nil {
		return err
	}

	t.Emit(events.EventPriceChanged, map[string]any{
		"seller":     listing.Seller,
		"collection": collection,
		"asset_id":   assetID,
		"new_price":  newPrice,
	})
	return nil
}

// Unlist returns the asset from escrow to caller and removes the listing.
func (t *Txn) Unlist(caller, collection, assetID string) error {
	listing, err := t.Listing(collection, assetID)
	if err != nil {
		return err
	}
	if err := t.authorize(caller, collection, assetID, listing); err != nil {
		return err
	}

	if err := t.l.assets.Transfer(collection, assetID, EscrowAddress, caller); err != nil {
		return fmt.Errorf("%w: withdraw %s/%s: %w", ErrTransferFailed, collection, assetID, err)
	}
	if err := t.l.state.DeleteListing(collection, assetID); err != nil {
		return err
	}
	t.info.TotalListings--
	t.infoDirty = true

	t.Emit(events.EventUnlisted, map[string]any{
		"seller":     listing.Seller,
		"collection": collection,
		"asset_id":   assetID,
	})
	return nil
}

// Purchase settles the listing for buyer. payment is the most buyer is
// willing to pay; price goes to the seller, the fee to the operator and any
// excess back to buyer. Any failed step fails the whole purchase.
func (t *Txn) Purchase(buyer, collection, assetID string, payment uint64) error {
	listing, err := t.Listing(collection, assetID)
	if err != nil {
		return err
	}
	q, err := NewQuote(listing.Price, t.info.FeeRate)
	if err != nil {
		return err
	}
	if payment < q.Total {
		return fmt.Errorf("%w: paid %d, due %d (price %d + fee %d)",
			ErrInsufficientPayment, payment, q.Total, q.Price, q.Fee)
	}

	steps := []struct {
		name     string
		from, to string
		amount   uint64
	}{
		{"collect payment", buyer, EscrowAddress, payment},
		{"pay seller", EscrowAddress, listing.Seller, q.Price},
		{"pay fee", EscrowAddress, t.info.Operator, q.Fee},
		{"refund excess", EscrowAddress, buyer, payment - q.Total},
	}
	for _, s := range steps {
		if err := t.l.bank.Transfer(s.from, s.to, s.amount); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrSettlementFailed, s.name, err)
		}
	}
	if err := t.l.assets.Transfer(collection, assetID, EscrowAddress, buyer); err != nil {
		return fmt.Errorf("%w: deliver %s/%s: %w", ErrSettlementFailed, collection, assetID, err)
	}

	if err := t.l.state.DeleteListing(collection, assetID); err != nil {
		return err
	}
	t.info.TotalListings--
	t.info.TotalSales++
	t.infoDirty = true

	t.Emit(events.EventPurchased, map[string]any{
		"buyer":      buyer,
		"seller":     listing.Seller,
		"collection": collection,
		"asset_id":   assetID,
		"price":      listing.Price,
		"fee":        q.Fee,
	})
	return nil
}

// SetFeeRate changes the fee rate. Only the operator may call it.
func (t *Txn) SetFeeRate(caller string, newRate uint64) error {
	if !t.l.operator.IsOperator(caller) {
		return fmt.Errorf("%w: %s is not the operator", ErrUnauthorized, caller)
	}
	if newRate > MaxFeeRate {
		return fmt.Errorf("%w: %d exceeds %d", ErrInvalidFeeRate, newRate, MaxFeeRate)
	}
	old := t.info.FeeRate
	t.info.FeeRate = newRate
	t.infoDirty = true

	t.Emit(events.EventFeeRateChanged, map[string]any{"old": old, "new": newRate})
	return nil
}
