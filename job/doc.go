// Package job defines the export job entity, its state machine, partial
// updates and the repository contract.
//
// # Job Entity
//
// A [Job] records one export request for one tenant. It embeds
// [export.Entity] for timestamps and progresses through a small state
// machine:
//
//	completed                         (synchronous exports)
//	queued → processing → ready       (asynchronous exports)
//	queued → processing → failed
//
// A job carries a download URL exactly when its status is completed or
// ready. Failure is terminal; callers resubmit instead of retrying.
//
// Delivery is tracked separately from the export status. A failed webhook
// never moves the job out of ready or completed:
//
//	not_applicable                    (immediate delivery)
//	pending → delivered | failed      (one-shot webhook)
//	scheduled                         (recurring webhook)
//
// # Repository
//
// [Repository] is the persistence contract. Every lookup is scoped by
// tenant; a job owned by another tenant is indistinguishable from a
// missing one. Updates are expressed as a [Patch] whose non-nil fields are
// applied in one step so that concurrent writers never observe a half
// transition.
package job
