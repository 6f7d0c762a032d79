// Package audit defines the append-only audit trail of export job
// lifecycle transitions.
//
// Every state change of a job, and every delivery outcome, is written as an
// [Entry] through a [Recorder]. Entries are never updated or deleted by the
// engine. The [Trail] helper stamps IDs, timestamps, severity and outcome so
// callers only describe what happened.
package audit

import (
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Detail is the fine-grained reason attached to an entry.
type Detail string

const (
	DetailSyncReady            Detail = "synchronous_export_ready"
	DetailAsyncEnqueued        Detail = "async_export_enqueued"
	DetailAsyncProcessing      Detail = "async_export_processing"
	DetailAsyncReady           Detail = "async_export_ready"
	DetailAsyncFailed          Detail = "async_export_failed"
	DetailWebhookScheduled     Detail = "webhook_scheduled"
	DetailWebhookDelivered     Detail = "webhook_delivered"
	DetailWebhookFailed        Detail = "webhook_delivery_failed"
	DetailWebhookDeliveryError Detail = "webhook_delivery_error"
)

// Severity grades an entry for operators.
type Severity string

// Severity values.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome tells whether the transition was a success.
type Outcome string

// Outcome values.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// classify maps each detail to its default severity and outcome.
var classify = map[Detail]struct {
	severity Severity
	outcome  Outcome
}{
	DetailSyncReady:            {SeverityInfo, OutcomeSuccess},
	DetailAsyncEnqueued:        {SeverityInfo, OutcomeSuccess},
	DetailAsyncProcessing:      {SeverityInfo, OutcomeSuccess},
	DetailAsyncReady:           {SeverityInfo, OutcomeSuccess},
	DetailAsyncFailed:          {SeverityCritical, OutcomeFailure},
	DetailWebhookScheduled:     {SeverityInfo, OutcomeSuccess},
	DetailWebhookDelivered:     {SeverityInfo, OutcomeSuccess},
	DetailWebhookFailed:        {SeverityWarning, OutcomeFailure},
	DetailWebhookDeliveryError: {SeverityWarning, OutcomeFailure},
}

// Entry is one append-only audit record.
type Entry struct {
	ID       id.AuditID  `json:"id"`
	JobID    id.ExportID `json:"jobId"`
	TenantID string      `json:"tenantId"`
	ActorID  string      `json:"actorId,omitempty"`

	// Status is the job status, or the delivery status for webhook
	// entries, at the time of the transition.
	Status       string          `json:"status"`
	StatusDetail Detail          `json:"statusDetail"`
	Filters      *export.Filters `json:"filters,omitempty"`
	RecordCount  int             `json:"recordCount"`
	Error        string          `json:"error,omitempty"`
	Metadata     map[string]any  `json:"metadata,omitempty"`

	Severity  Severity  `json:"severity"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"createdAt"`
}
