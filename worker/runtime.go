package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xraph/export/ext"
	"github.com/xraph/export/queue"
)

// ErrRuntimeRunning is returned by Start on a runtime that is already
// subscribed.
var ErrRuntimeRunning = errors.New("worker: runtime already running")

// Stats counts the messages a Runtime has handled.
type Stats struct {
	Processed int64
	Failed    int64
}

// Runtime subscribes a Worker to a DeliveryQueue.
type Runtime struct {
	queue      queue.DeliveryQueue
	worker     *Worker
	extensions *ext.Registry
	logger     *slog.Logger

	mu          sync.Mutex
	unsubscribe func()
	inflight    sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithExtensions sets the registry notified on shutdown.
func WithExtensions(r *ext.Registry) RuntimeOption {
	return func(rt *Runtime) { rt.extensions = r }
}

// WithRuntimeLogger sets the logger.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(rt *Runtime) {
		if l != nil {
			rt.logger = l
		}
	}
}

// NewRuntime returns a Runtime feeding messages from q to w.
func NewRuntime(q queue.DeliveryQueue, w *Worker, opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		queue:  q,
		worker: w,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Start subscribes to the queue. It returns immediately.
func (rt *Runtime) Start(_ context.Context) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.unsubscribe != nil {
		return ErrRuntimeRunning
	}
	rt.unsubscribe = rt.queue.Subscribe(rt.handle)
	rt.logger.Info("worker: runtime started")
	return nil
}

func (rt *Runtime) handle(ctx context.Context, m *queue.Message) error {
	rt.inflight.Add(1)
	defer rt.inflight.Done()

	if err := rt.worker.Handle(ctx, m); err != nil {
		rt.failed.Add(1)
		attrs := []any{slog.String("error", err.Error())}
		if m != nil {
			attrs = append(attrs,
				slog.String("job_id", m.JobID.String()),
				slog.String("tenant_id", m.TenantID),
			)
		}
		rt.logger.Error("worker: message failed", attrs...)
		return err
	}
	rt.processed.Add(1)
	return nil
}

// Stop unsubscribes, waits for in-flight messages until ctx is done and
// notifies extensions of the shutdown.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	unsub := rt.unsubscribe
	rt.unsubscribe = nil
	rt.mu.Unlock()

	if unsub == nil {
		return nil
	}
	unsub()

	done := make(chan struct{})
	go func() {
		rt.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		rt.logger.Warn("worker: stop deadline reached with messages in flight")
	}

	rt.extensions.EmitShutdown(ctx)
	rt.logger.Info("worker: runtime stopped",
		slog.Int64("processed", rt.processed.Load()),
		slog.Int64("failed", rt.failed.Load()),
	)
	return err
}

// Stats returns the handled message counters.
func (rt *Runtime) Stats() Stats {
	return Stats{
		Processed: rt.processed.Load(),
		Failed:    rt.failed.Load(),
	}
}
