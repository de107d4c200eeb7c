package events

import (
	"context"
	"encoding/json"
	"time"
)

// Order lifecycle topics. The webhook handler publishes paid/failed, the
// render worker publishes fulfilled; subscribers are optional (the bus is
// fire-and-forget).
const (
	TopicOrderPaid      = "order.paid"
	TopicOrderFulfilled = "order.fulfilled"
	TopicOrderFailed    = "order.failed"
)

// Event is the envelope carried on every topic. Payload is left opaque so
// publishers can evolve their shape without touching the bus.
type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Handler consumes one event. Each invocation gets its own goroutine, so
// handlers may block briefly without stalling publishers.
type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers, in-process or via NATS.
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}
