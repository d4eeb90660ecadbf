package domain

import "time"

// Event is a fire-and-forget notification produced by the auction engine or
// the hosting service. Events fan out to the event bus, websocket clients,
// webhook notifiers and the audit log; no consumer acknowledges them.
type Event struct {
	ID         string            `json:"id,omitempty"`
	Type       string            `json:"type"`
	AuctionID  string            `json:"auction_id,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Emitter receives events synchronously after the emitting operation has
// committed. Implementations must not block and must not fail the caller.
type Emitter interface {
	Emit(evt Event)
}

// NoopEmitter discards every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(evt Event)

func (f EmitterFunc) Emit(evt Event) { f(evt) }
