// Package ext defines the extension system for the export engine.
//
// Extensions are notified of lifecycle events and can react to them, for
// example by recording metrics or notifying operators.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnExportReady(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("export %s ready in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Export Lifecycle Hooks
//
//   - [ExportQueued]: export was persisted as queued and enqueued
//   - [ExportStarted]: a worker began processing a queued export
//   - [ExportReady]: artifact stored and download link issued
//   - [ExportFailed]: asynchronous processing failed terminally
//
// # Delivery Lifecycle Hooks
//
//   - [DeliveryCompleted]: webhook push succeeded
//   - [DeliveryFailed]: webhook push exhausted its attempts
//   - [DeliveryScheduled]: a recurring webhook delivery was registered
//
// # Other Hooks
//
//   - [Shutdown]: the worker runtime is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated to the engine.
package ext
