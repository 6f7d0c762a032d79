package queue

import (
	"context"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Message is the only datum that crosses the queue boundary.
type Message struct {
	JobID      id.ExportID     `json:"jobId"`
	TenantID   string          `json:"tenantId"`
	Filters    *export.Filters `json:"filters"`
	ActorID    string          `json:"actorId,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Clone returns a copy of m that shares no mutable state with it.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Filters != nil {
		f := *m.Filters
		cp.Filters = &f
	}
	return &cp
}

// Handler processes one message. A returned error is reported by the
// queue implementation but never causes redelivery.
type Handler func(ctx context.Context, m *Message) error

// DeliveryQueue is the enqueue/subscribe contract between the engine and
// the worker runtime.
type DeliveryQueue interface {
	// Enqueue schedules m for delivery to subscribers.
	Enqueue(ctx context.Context, m *Message) error

	// Subscribe registers h and returns a function that unregisters it.
	// The returned function is safe to call more than once.
	Subscribe(h Handler) (unsubscribe func())
}
