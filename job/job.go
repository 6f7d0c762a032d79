package job

import (
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Status represents the lifecycle state of an export job.
type Status string

const (
	// StatusQueued means the job waits for a worker to pick it up.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker is fetching and rendering records.
	StatusProcessing Status = "processing"
	// StatusReady means an asynchronous export produced its artifact.
	StatusReady Status = "ready"
	// StatusCompleted means a synchronous export produced its artifact.
	StatusCompleted Status = "completed"
	// StatusFailed means processing failed. It is terminal.
	StatusFailed Status = "failed"
)

// HasArtifact reports whether a job in this status carries a download URL.
func (s Status) HasArtifact() bool {
	return s == StatusReady || s == StatusCompleted
}

// Terminal reports whether no further processing is expected.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether a job may move from s to next.
//
// Repeating the current status is always allowed, and a ready or failed job
// may re-enter processing because queue backends can deliver a message
// twice. A completed (synchronous) job never changes again.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusQueued:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusReady || next == StatusFailed
	case StatusReady, StatusFailed:
		return next == StatusProcessing
	default:
		return false
	}
}

// DeliveryStatus tracks how the artifact link reached the requester.
type DeliveryStatus string

const (
	// DeliveryNotApplicable is used for immediate delivery.
	DeliveryNotApplicable DeliveryStatus = "not_applicable"
	// DeliveryPending means a webhook will be attempted once the artifact exists.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryScheduled means a recurring webhook was registered.
	DeliveryScheduled DeliveryStatus = "scheduled"
	// DeliveryDelivered means the webhook endpoint acknowledged the payload.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryFailed means every webhook attempt failed.
	DeliveryFailed DeliveryStatus = "failed"
)

// InitialDeliveryStatus returns the delivery status a new job starts with.
func InitialDeliveryStatus(d export.Delivery) DeliveryStatus {
	if d.Type == export.DeliveryWebhook {
		return DeliveryPending
	}
	return DeliveryNotApplicable
}

// Job is a single export request and its outcome.
type Job struct {
	export.Entity

	ID       id.ExportID    `json:"jobId"`
	TenantID string         `json:"tenantId"`
	ActorID  string         `json:"actorId,omitempty"`
	Status   Status         `json:"status"`
	Format   export.Format  `json:"format"`
	Filters  export.Filters `json:"filters"`

	DeliveryType          export.DeliveryType `json:"deliveryType"`
	DeliveryTarget        string              `json:"deliveryTarget,omitempty"`
	DeliverySchedule      string              `json:"deliverySchedule,omitempty"`
	DeliveryStatus        DeliveryStatus      `json:"deliveryStatus"`
	DeliveryAttempts      int                 `json:"deliveryAttempts"`
	DeliveryLastAttemptAt *time.Time          `json:"deliveryLastAttemptAt,omitempty"`

	EstimatedCount int        `json:"estimatedCount"`
	ETASeconds     int        `json:"etaSeconds,omitempty"`
	RecordCount    int        `json:"recordCount"`
	DownloadURL    string     `json:"downloadUrl,omitempty"`
	ArtifactPath   string     `json:"artifactPath,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// New builds a job for tenantID from filters with delivery fields copied
// from the filters' delivery block. The caller sets the status.
func New(jobID id.ExportID, tenantID, actorID string, filters export.Filters) *Job {
	return &Job{
		Entity:           export.NewEntity(),
		ID:               jobID,
		TenantID:         tenantID,
		ActorID:          actorID,
		Format:           filters.Format,
		Filters:          filters,
		DeliveryType:     filters.Delivery.Type,
		DeliveryTarget:   filters.Delivery.WebhookURL,
		DeliverySchedule: filters.Delivery.Schedule,
		DeliveryStatus:   InitialDeliveryStatus(filters.Delivery),
	}
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.DeliveryLastAttemptAt = cloneTime(j.DeliveryLastAttemptAt)
	cp.ExpiresAt = cloneTime(j.ExpiresAt)
	cp.CompletedAt = cloneTime(j.CompletedAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
