// Package observability provides OpenTelemetry-based metrics for the
// export engine. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for export queueing, processing, readiness, failure,
// and webhook delivery outcomes.
//
// For per-message tracing and metrics in the worker, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
