package vm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolmarket/core"
)

// ErrBadPayload wraps payload decoding failures.
var ErrBadPayload = errors.New("bad payload")

// Handler applies one transaction type. It runs inside the ledger
// transaction opened for the tx, so returning an error discards every write
// it made.
type Handler func(ctx *Context, payload json.RawMessage) error

// Typed adapts fn into a Handler that decodes the payload into P first.
// Unknown payload fields are rejected.
func Typed[P any](fn func(ctx *Context, p P) error) Handler {
	return func(ctx *Context, payload json.RawMessage) error {
		var p P
		if err := decodeStrict(payload, &p); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadPayload, ctx.Tx.Type, err)
		}
		return fn(ctx, p)
	}
}

// Registry is the routing table from TxType to Handler.
type Registry struct {
	mu     sync.RWMutex
	routes map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{routes: make(map[core.TxType]Handler)}
}

// Register routes typ to h. Registering a type twice is a programming error
// and panics.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.routes[typ]; dup {
		panic(fmt.Sprintf("vm: %q registered twice", typ))
	}
	r.routes[typ] = h
}

// Lookup returns the handler for typ.
func (r *Registry) Lookup(typ core.TxType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.routes[typ]
	return h, ok
}

// Types lists the registered transaction types in sorted order.
func (r *Registry) Types() []core.TxType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.TxType, 0, len(r.routes))
	for typ := range r.routes {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// handlers is the table modules fill from their init functions.
var handlers = NewRegistry()

// Register routes typ to h in the process-wide table.
func Register(typ core.TxType, h Handler) {
	handlers.Register(typ, h)
}

// Types lists every transaction type the process-wide table can execute.
func Types() []core.TxType {
	return handlers.Types()
}

func decodeStrict(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
