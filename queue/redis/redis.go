// Package redis provides a queue.DeliveryQueue backed by a Redis list.
//
// Producers LPUSH encoded messages onto "export:queue:{name}"; a poll loop
// started by the first subscriber BRPOPs them in FIFO order and hands each
// one to every current subscriber. A popped message is delivered once per
// process; if the process dies mid-handler the message is lost, which
// matches the no-redelivery contract of the engine.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	q := redisqueue.New(client, "exports", redisqueue.WithCodec(queue.MsgpackCodec{}))
//	defer q.Close()
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/export"
	"github.com/xraph/export/queue"
)

var _ queue.DeliveryQueue = (*Queue)(nil)

const keyPrefix = "export:queue:"

// Key returns the list key for queue name: export:queue:{name}.
func Key(name string) string { return keyPrefix + name }

// Option configures a Queue.
type Option func(*Queue)

// WithCodec sets the message codec. Defaults to JSON.
func WithCodec(c queue.Codec) Option {
	return func(q *Queue) { q.codec = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithContext sets the context handed to handlers. Defaults to
// context.Background so that Close does not abort an in-flight handler.
func WithContext(ctx context.Context) Option {
	return func(q *Queue) { q.baseCtx = ctx }
}

// WithPollTimeout sets how long one BRPOP blocks before the loop re-checks
// its subscribers. Defaults to one second.
func WithPollTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollTimeout = d
		}
	}
}

type subscriber struct {
	id      uint64
	handler queue.Handler
}

// Queue is a Redis list-backed delivery queue.
type Queue struct {
	client      redis.Cmdable
	key         string
	codec       queue.Codec
	logger      *slog.Logger
	pollTimeout time.Duration
	baseCtx     context.Context

	mu      sync.Mutex
	subs    []subscriber
	nextSub uint64
	closed  bool
	loopCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{} // non-nil while the poll loop runs
}

// New returns a Queue on list export:queue:{name}. The caller owns the
// Redis client lifecycle.
func New(client redis.Cmdable, name string, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		client:      client,
		key:         Key(name),
		codec:       queue.JSONCodec{},
		logger:      slog.Default(),
		pollTimeout: time.Second,
		baseCtx:     context.Background(),
		loopCtx:     ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue implements queue.DeliveryQueue.
func (q *Queue) Enqueue(ctx context.Context, m *queue.Message) error {
	if m == nil {
		return export.NewValidationError("message", "required")
	}
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return export.ErrQueueClosed
	}

	cp := m.Clone()
	if cp.EnqueuedAt.IsZero() {
		cp.EnqueuedAt = time.Now().UTC()
	}
	data, err := q.codec.Encode(cp)
	if err != nil {
		return fmt.Errorf("export/redis: encode message %s: %w", cp.JobID, err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("export/redis: lpush %s: %w", q.key, err)
	}
	return nil
}

// Subscribe implements queue.DeliveryQueue. The first subscriber starts
// the poll loop; the loop stops when the last one unsubscribes.
func (q *Queue) Subscribe(h queue.Handler) func() {
	q.mu.Lock()
	q.nextSub++
	subID := q.nextSub
	q.subs = append(q.subs, subscriber{id: subID, handler: h})
	if q.done == nil && !q.closed {
		q.done = make(chan struct{})
		go q.poll(q.done)
	}
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

// handlers snapshots the subscribers, or reports false when the loop
// should exit. On false the loop is marked stopped under the same lock so
// that a concurrent Subscribe starts a fresh one.
func (q *Queue) handlers() ([]queue.Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.subs) == 0 {
		q.done = nil
		return nil, false
	}
	hs := make([]queue.Handler, len(q.subs))
	for i, s := range q.subs {
		hs[i] = s.handler
	}
	return hs, true
}

func (q *Queue) poll(done chan struct{}) {
	defer close(done)

	for {
		if _, ok := q.handlers(); !ok {
			return
		}

		res, err := q.client.BRPop(q.loopCtx, q.pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if q.loopCtx.Err() != nil {
				q.markStopped()
				return
			}
			q.logger.Warn("export/redis: brpop failed",
				slog.String("key", q.key),
				slog.String("error", err.Error()),
			)
			select {
			case <-q.loopCtx.Done():
				q.markStopped()
				return
			case <-time.After(q.pollTimeout):
			}
			continue
		}

		// BRPOP returns [key, value].
		if len(res) != 2 {
			continue
		}
		m, err := q.codec.Decode([]byte(res[1]))
		if err != nil {
			q.logger.Error("export/redis: dropping undecodable message",
				slog.String("key", q.key),
				slog.String("error", err.Error()),
			)
			continue
		}

		hs, ok := q.handlers()
		if !ok {
			// Popped after the last unsubscribe: put it back at the
			// consuming end so the next subscriber sees it first.
			if data, encErr := q.codec.Encode(m); encErr == nil {
				_ = q.client.RPush(context.Background(), q.key, data).Err()
			}
			return
		}
		for _, h := range hs {
			q.deliver(h, m.Clone())
		}
	}
}

func (q *Queue) markStopped() {
	q.mu.Lock()
	q.done = nil
	q.mu.Unlock()
}

func (q *Queue) deliver(h queue.Handler, m *queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("export/redis: handler panicked",
				slog.String("job_id", m.JobID.String()),
				slog.String("tenant_id", m.TenantID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := h(q.baseCtx, m); err != nil {
		q.logger.Debug("export/redis: handler returned error",
			slog.String("job_id", m.JobID.String()),
			slog.String("tenant_id", m.TenantID),
			slog.String("error", err.Error()),
		)
	}
}

// Len returns the number of messages waiting in Redis.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("export/redis: llen %s: %w", q.key, err)
	}
	return n, nil
}

// Close stops the poll loop and waits for the in-flight handler. Messages
// still in Redis stay there for the next consumer.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	done := q.done
	q.mu.Unlock()

	q.cancel()
	if done != nil {
		<-done
	}
	return nil
}
