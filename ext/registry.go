package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/export/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type exportQueuedEntry struct {
	name string
	hook ExportQueued
}

type exportStartedEntry struct {
	name string
	hook ExportStarted
}

type exportReadyEntry struct {
	name string
	hook ExportReady
}

type exportFailedEntry struct {
	name string
	hook ExportFailed
}

type deliveryCompletedEntry struct {
	name string
	hook DeliveryCompleted
}

type deliveryFailedEntry struct {
	name string
	hook DeliveryFailed
}

type deliveryScheduledEntry struct {
	name string
	hook DeliveryScheduled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// A nil *Registry is valid and emits nothing.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	exportQueued      []exportQueuedEntry
	exportStarted     []exportStartedEntry
	exportReady       []exportReadyEntry
	exportFailed      []exportFailedEntry
	deliveryCompleted []deliveryCompletedEntry
	deliveryFailed    []deliveryFailedEntry
	deliveryScheduled []deliveryScheduledEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExportQueued); ok {
		r.exportQueued = append(r.exportQueued, exportQueuedEntry{name, h})
	}
	if h, ok := e.(ExportStarted); ok {
		r.exportStarted = append(r.exportStarted, exportStartedEntry{name, h})
	}
	if h, ok := e.(ExportReady); ok {
		r.exportReady = append(r.exportReady, exportReadyEntry{name, h})
	}
	if h, ok := e.(ExportFailed); ok {
		r.exportFailed = append(r.exportFailed, exportFailedEntry{name, h})
	}
	if h, ok := e.(DeliveryCompleted); ok {
		r.deliveryCompleted = append(r.deliveryCompleted, deliveryCompletedEntry{name, h})
	}
	if h, ok := e.(DeliveryFailed); ok {
		r.deliveryFailed = append(r.deliveryFailed, deliveryFailedEntry{name, h})
	}
	if h, ok := e.(DeliveryScheduled); ok {
		r.deliveryScheduled = append(r.deliveryScheduled, deliveryScheduledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension {
	if r == nil {
		return nil
	}
	return r.extensions
}

// ──────────────────────────────────────────────────
// Export event emitters
// ──────────────────────────────────────────────────

// EmitExportQueued notifies all extensions that implement ExportQueued.
func (r *Registry) EmitExportQueued(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.exportQueued {
		if err := e.hook.OnExportQueued(ctx, j); err != nil {
			r.logHookError("OnExportQueued", e.name, err)
		}
	}
}

// EmitExportStarted notifies all extensions that implement ExportStarted.
func (r *Registry) EmitExportStarted(ctx context.Context, j *job.Job) {
	if r == nil {
		return
	}
	for _, e := range r.exportStarted {
		if err := e.hook.OnExportStarted(ctx, j); err != nil {
			r.logHookError("OnExportStarted", e.name, err)
		}
	}
}

// EmitExportReady notifies all extensions that implement ExportReady.
func (r *Registry) EmitExportReady(ctx context.Context, j *job.Job, elapsed time.Duration) {
	if r == nil {
		return
	}
	for _, e := range r.exportReady {
		if err := e.hook.OnExportReady(ctx, j, elapsed); err != nil {
			r.logHookError("OnExportReady", e.name, err)
		}
	}
}

// EmitExportFailed notifies all extensions that implement ExportFailed.
func (r *Registry) EmitExportFailed(ctx context.Context, j *job.Job, exportErr error) {
	if r == nil {
		return
	}
	for _, e := range r.exportFailed {
		if err := e.hook.OnExportFailed(ctx, j, exportErr); err != nil {
			r.logHookError("OnExportFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Delivery event emitters
// ──────────────────────────────────────────────────

// EmitDeliveryCompleted notifies all extensions that implement DeliveryCompleted.
func (r *Registry) EmitDeliveryCompleted(ctx context.Context, j *job.Job, attempts int) {
	if r == nil {
		return
	}
	for _, e := range r.deliveryCompleted {
		if err := e.hook.OnDeliveryCompleted(ctx, j, attempts); err != nil {
			r.logHookError("OnDeliveryCompleted", e.name, err)
		}
	}
}

// EmitDeliveryFailed notifies all extensions that implement DeliveryFailed.
func (r *Registry) EmitDeliveryFailed(ctx context.Context, j *job.Job, attempts int, deliveryErr error) {
	if r == nil {
		return
	}
	for _, e := range r.deliveryFailed {
		if err := e.hook.OnDeliveryFailed(ctx, j, attempts, deliveryErr); err != nil {
			r.logHookError("OnDeliveryFailed", e.name, err)
		}
	}
}

// EmitDeliveryScheduled notifies all extensions that implement DeliveryScheduled.
func (r *Registry) EmitDeliveryScheduled(ctx context.Context, j *job.Job, schedule string) {
	if r == nil {
		return
	}
	for _, e := range r.deliveryScheduled {
		if err := e.hook.OnDeliveryScheduled(ctx, j, schedule); err != nil {
			r.logHookError("OnDeliveryScheduled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	if r == nil {
		return
	}
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
