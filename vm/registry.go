package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tolelom/cipherforge/core"
)

// ErrUnknownTxType is returned for a transaction no module claimed.
var ErrUnknownTxType = errors.New("unknown tx type")

// Handler applies one decoded ledger transaction. Writes go through
// ctx.Ledger; events go through ctx.Emit and are published only if the
// enclosing block commits.
type Handler func(ctx *Context, payload json.RawMessage) error

// Registry routes each TxType (claim_gold, build, transfer_gold,
// reveal_building) to the module that owns it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register binds typ to h. Two modules claiming one type is a wiring bug,
// so it panics.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: %q registered twice", typ))
	}
	r.handlers[typ] = h
}

// Execute runs the handler for typ against ctx.
func (r *Registry) Execute(typ core.TxType, ctx *Context, payload json.RawMessage) error {
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTxType, typ)
	}
	return h(ctx, payload)
}

var globalRegistry = NewRegistry()

// Register adds h to the registry the Executor dispatches through. The game
// and economy modules call it from init, so importing them is enough.
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}
