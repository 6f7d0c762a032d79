package ext

import (
	"context"
	"time"

	"github.com/xraph/export/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Export lifecycle hooks
// ──────────────────────────────────────────────────

// ExportQueued is called after an export is persisted as queued and
// handed to the delivery queue.
type ExportQueued interface {
	OnExportQueued(ctx context.Context, j *job.Job) error
}

// ExportStarted is called when a worker begins processing a queued export.
type ExportStarted interface {
	OnExportStarted(ctx context.Context, j *job.Job) error
}

// ExportReady is called once an artifact is stored and its link issued,
// on both the synchronous and the asynchronous path.
type ExportReady interface {
	OnExportReady(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// ExportFailed is called when an asynchronous export fails terminally.
type ExportFailed interface {
	OnExportFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Delivery lifecycle hooks
// ──────────────────────────────────────────────────

// DeliveryCompleted is called after a webhook push succeeds.
type DeliveryCompleted interface {
	OnDeliveryCompleted(ctx context.Context, j *job.Job, attempts int) error
}

// DeliveryFailed is called after a webhook push exhausts its attempts.
type DeliveryFailed interface {
	OnDeliveryFailed(ctx context.Context, j *job.Job, attempts int, err error) error
}

// DeliveryScheduled is called after a recurring webhook delivery is
// registered.
type DeliveryScheduled interface {
	OnDeliveryScheduled(ctx context.Context, j *job.Job, schedule string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
