// Package engine orchestrates export jobs end to end.
//
// CreateExportJob estimates the filtered session set and either exports it
// inline, returning a signed download URL, or records a queued job and
// publishes a queue.Message for the worker runtime. ProcessQueuedJob is the
// worker side of the queued path: it moves the job through processing to
// ready or failed.
//
// Once an artifact exists the engine delivers it according to the job's
// delivery block: immediate delivery does nothing more, a webhook is
// dispatched once, and a webhook with a cron schedule is handed to the
// Scheduler. Delivery outcomes are recorded on the job and in the audit
// trail but never fail the export itself.
//
// This package sits above every subsystem package so that the root export
// package, which they all import, never has to import them back.
package engine
