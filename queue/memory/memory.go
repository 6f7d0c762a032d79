// Package memory provides an in-process queue.DeliveryQueue.
//
// Messages are buffered in FIFO order and drained to every current
// subscriber once both a message and a subscriber exist. At most one drain
// runs per queue; messages enqueued while a drain is in progress are
// picked up by that drain instead of starting another, so a handler never
// runs concurrently with itself on the same queue.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/queue"
)

var _ queue.DeliveryQueue = (*Queue)(nil)

type subscriber struct {
	id      uint64
	handler queue.Handler
}

// Queue is an in-process FIFO delivery queue. Create one per process and
// pass it explicitly to producers and consumers.
type Queue struct {
	mu       sync.Mutex
	buf      []*queue.Message
	subs     []subscriber
	nextSub  uint64
	draining bool
	closed   bool
	idle     *sync.Cond

	baseCtx context.Context
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithContext sets the context handed to handlers. Handlers never receive
// the producer's context, so cancelling a submission does not abort
// background processing.
func WithContext(ctx context.Context) Option {
	return func(q *Queue) { q.baseCtx = ctx }
}

// New returns an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		baseCtx: context.Background(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	q.idle = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue implements queue.DeliveryQueue. It returns as soon as the
// message is buffered.
func (q *Queue) Enqueue(ctx context.Context, m *queue.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		return export.NewValidationError("message", "required")
	}

	cp := m.Clone()
	if cp.EnqueuedAt.IsZero() {
		cp.EnqueuedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return export.ErrQueueClosed
	}
	q.buf = append(q.buf, cp)
	q.kickLocked()
	return nil
}

// Subscribe implements queue.DeliveryQueue. Buffered messages start
// draining to h immediately.
func (q *Queue) Subscribe(h queue.Handler) func() {
	q.mu.Lock()
	q.nextSub++
	subID := q.nextSub
	q.subs = append(q.subs, subscriber{id: subID, handler: h})
	q.kickLocked()
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			for i, s := range q.subs {
				if s.id == subID {
					q.subs = append(q.subs[:i:i], q.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// kickLocked starts a drain when there is work and nobody is draining.
// The caller must hold q.mu.
func (q *Queue) kickLocked() {
	if q.closed || q.draining || len(q.buf) == 0 || len(q.subs) == 0 {
		return
	}
	q.draining = true
	go q.drain()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.buf) == 0 || len(q.subs) == 0 {
			q.draining = false
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		m := q.buf[0]
		q.buf[0] = nil
		q.buf = q.buf[1:]
		handlers := make([]queue.Handler, len(q.subs))
		for i, s := range q.subs {
			handlers[i] = s.handler
		}
		q.mu.Unlock()

		for _, h := range handlers {
			q.deliver(h, m.Clone())
		}
	}
}

func (q *Queue) deliver(h queue.Handler, m *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queue/memory: handler panicked",
				slog.String("job_id", m.JobID.String()),
				slog.String("tenant_id", m.TenantID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := h(q.baseCtx, m); err != nil {
		q.logger.Debug("queue/memory: handler returned error",
			slog.String("job_id", m.JobID.String()),
			slog.String("tenant_id", m.TenantID),
			slog.String("error", err.Error()),
		)
	}
}

// Len returns the number of buffered, undelivered messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Wait blocks until no drain is running. Messages buffered without a
// subscriber stay buffered.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.draining {
		q.idle.Wait()
	}
}

// Close rejects further messages and waits for the running drain, which
// still delivers what was buffered before Close.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for q.draining {
		q.idle.Wait()
	}
	return nil
}
