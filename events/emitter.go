// Package events delivers marketplace notifications to in-process observers.
package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventListed         EventType = "listed"
	EventPriceChanged   EventType = "price_changed"
	EventUnlisted       EventType = "unlisted"
	EventPurchased      EventType = "purchased"
	EventFeeRateChanged EventType = "fee_rate_changed"

	EventCollectionRegistered EventType = "collection_registered"
	EventAssetMinted          EventType = "asset_minted"
	EventAssetBurned          EventType = "asset_burned"
	EventAssetTransfer        EventType = "asset_transfer"
	EventApprovalSet          EventType = "approval_set"
	EventTokenTransfer        EventType = "token_transfer"

	EventTxExecuted EventType = "tx_executed"
)

// Event carries a typed payload emitted after a committed state change.
// Events are never emitted for failed or reverted operations.
type Event struct {
	ID   string         `json:"id"`
	Type EventType      `json:"type"`
	TxID string         `json:"tx_id,omitempty"`
	Data map[string]any `json:"data"`
}

// New builds an Event with a fresh ID.
func New(typ EventType, data map[string]any) Event {
	return Event{ID: uuid.NewString(), Type: typ, Data: data}
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot break the caller.
func (e *Emitter) Emit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					zap.L().With(zap.String("event", string(ev.Type)), zap.Any("panic", r)).
						Error("Event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}
