package history

import (
	"context"
	"time"
)

// EventType defines the kind of gateway lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventReady        EventType = "ready"
	EventCrash        EventType = "crash"
	EventCircuitOpen  EventType = "circuit_open"
	EventCircuitClose EventType = "circuit_close"
	EventStop         EventType = "stop"
)

// Record carries the gateway state attached to an event.
type Record struct {
	Name   string `json:"name"`
	PID    int    `json:"pid"`
	Detail string `json:"detail,omitempty"` // human-readable cause, e.g. crash reason
}

// Event is one gateway lifecycle event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for lifecycle events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
