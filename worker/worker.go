// Package worker consumes queue messages and runs them through the engine.
//
// A [Worker] validates one message, wraps the call in the middleware chain
// (logging, panic recovery, scope restore, timeout, tracing, metrics) and
// invokes ProcessQueuedJob. A [Runtime] subscribes a Worker to a
// DeliveryQueue and owns its lifecycle.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/engine"
	"github.com/xraph/export/id"
	"github.com/xraph/export/middleware"
	"github.com/xraph/export/queue"
)

// Processor runs a queued export. *engine.Engine satisfies it.
type Processor interface {
	ProcessQueuedJob(ctx context.Context, jobID id.ExportID, tenantID string, filters *export.Filters, actorID string) (*engine.ProcessResult, error)
}

var _ Processor = (*engine.Engine)(nil)

// Worker handles one queue message at a time.
type Worker struct {
	processor      Processor
	logger         *slog.Logger
	processTimeout time.Duration
	extra          []middleware.Middleware
	defaults       bool

	chain middleware.Middleware
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithProcessTimeout bounds each ProcessQueuedJob call. Zero disables it.
func WithProcessTimeout(d time.Duration) Option {
	return func(w *Worker) { w.processTimeout = d }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.extra = append(w.extra, mws...) }
}

// WithoutDefaultMiddleware drops the default chain so that only
// WithMiddleware entries run.
func WithoutDefaultMiddleware() Option {
	return func(w *Worker) { w.defaults = false }
}

// New returns a Worker that drives p.
func New(p Processor, opts ...Option) *Worker {
	w := &Worker{
		processor: p,
		logger:    slog.Default(),
		defaults:  true,
	}
	for _, opt := range opts {
		opt(w)
	}

	var mws []middleware.Middleware
	if w.defaults {
		mws = append(mws,
			middleware.Logging(w.logger),
			middleware.Recover(w.logger),
			middleware.Scope(),
			middleware.Timeout(w.processTimeout, w.logger),
			middleware.Tracing(),
			middleware.Metrics(),
		)
	}
	mws = append(mws, w.extra...)
	w.chain = middleware.Chain(mws...)

	return w
}

// Handle processes m. Messages without a job, tenant or filters are
// rejected with a validation error before any state is touched.
func (w *Worker) Handle(ctx context.Context, m *queue.Message) error {
	if err := validate(m); err != nil {
		w.logger.Warn("worker: dropping malformed message",
			slog.String("error", err.Error()),
		)
		return err
	}

	return w.chain(ctx, m, func(ctx context.Context) error {
		_, err := w.processor.ProcessQueuedJob(ctx, m.JobID, m.TenantID, m.Filters, m.ActorID)
		return err
	})
}

func validate(m *queue.Message) error {
	switch {
	case m == nil:
		return export.NewValidationError("message", "required")
	case m.JobID.IsNil():
		return export.NewValidationError("jobId", "required")
	case m.TenantID == "":
		return export.NewValidationError("tenantId", "required")
	case m.Filters == nil:
		return export.NewValidationError("filters", "required")
	}
	return nil
}
