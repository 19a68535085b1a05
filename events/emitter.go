// Package events is an in-process pub/sub bus for ledger events.
package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit      EventType = "block_commit"
	EventTxExecuted       EventType = "tx_executed"
	EventTxRejected       EventType = "tx_rejected"
	EventGoldClaimed      EventType = "gold_claimed"
	EventBuildingBuilt    EventType = "building_constructed"
	EventGoldTransfer     EventType = "gold_transfer"
	EventBuildingRevealed EventType = "building_revealed"
)

// Event carries a typed payload emitted after a state change. Payloads never
// carry plaintexts that are not already public.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id,omitempty"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter delivers events synchronously. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h for events of type typ.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to its subscribers. A panicking handler is logged and
// skipped so it cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	hs := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	hs = append(hs, e.handlers[ev.Type]...)
	hs = append(hs, e.all...)
	e.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("event", string(ev.Type)).Interface("panic", r).Msg("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}
