package job

import (
	"fmt"
	"time"

	"github.com/xraph/export"
)

// Patch is a partial update of a job. Nil fields are left untouched.
type Patch struct {
	Status                *Status
	DeliveryStatus        *DeliveryStatus
	DeliveryAttempts      *int
	DeliveryLastAttemptAt *time.Time
	RecordCount           *int
	DownloadURL           *string
	ArtifactPath          *string
	ExpiresAt             *time.Time
	FailureReason         *string
	CompletedAt           *time.Time
}

// Apply writes the non-nil fields of p into j and bumps UpdatedAt. It
// returns export.ErrInvalidStatusChange, leaving j unchanged, when the
// status transition is not allowed.
func (p Patch) Apply(j *Job, now time.Time) error {
	if p.Status != nil && !j.Status.CanTransitionTo(*p.Status) {
		return fmt.Errorf("%w: %s -> %s", export.ErrInvalidStatusChange, j.Status, *p.Status)
	}

	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.DeliveryStatus != nil {
		j.DeliveryStatus = *p.DeliveryStatus
	}
	if p.DeliveryAttempts != nil {
		j.DeliveryAttempts = *p.DeliveryAttempts
	}
	if p.DeliveryLastAttemptAt != nil {
		j.DeliveryLastAttemptAt = cloneTime(p.DeliveryLastAttemptAt)
	}
	if p.RecordCount != nil {
		j.RecordCount = *p.RecordCount
	}
	if p.DownloadURL != nil {
		j.DownloadURL = *p.DownloadURL
	}
	if p.ArtifactPath != nil {
		j.ArtifactPath = *p.ArtifactPath
	}
	if p.ExpiresAt != nil {
		j.ExpiresAt = cloneTime(p.ExpiresAt)
	}
	if p.FailureReason != nil {
		j.FailureReason = *p.FailureReason
	}
	if p.CompletedAt != nil {
		j.CompletedAt = cloneTime(p.CompletedAt)
	}

	// A job only exposes a link while it holds an artifact.
	if !j.Status.HasArtifact() {
		j.DownloadURL = ""
	}

	j.UpdatedAt = now.UTC()
	return nil
}

// Ptr returns a pointer to v. It keeps Patch literals short.
func Ptr[T any](v T) *T { return &v }
