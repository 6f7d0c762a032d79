package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to job.Status
		want     bool
	}{
		{job.StatusQueued, job.StatusProcessing, true},
		{job.StatusProcessing, job.StatusReady, true},
		{job.StatusProcessing, job.StatusFailed, true},
		{job.StatusReady, job.StatusProcessing, true},
		{job.StatusQueued, job.StatusReady, false},
		{job.StatusCompleted, job.StatusFailed, false},
		{job.StatusReady, job.StatusQueued, false},
		{job.StatusCompleted, job.StatusCompleted, true},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewCopiesDelivery(t *testing.T) {
	filters := export.Filters{
		Format: export.FormatCSV,
		Delivery: export.Delivery{
			Type:       export.DeliveryWebhook,
			WebhookURL: "https://hooks.example.com/x",
			Schedule:   "0 2 * * *",
		},
	}

	j := job.New(id.NewExportID(), "tenant-1", "u1", filters)
	if j.DeliveryType != export.DeliveryWebhook {
		t.Errorf("DeliveryType = %q", j.DeliveryType)
	}
	if j.DeliveryTarget != "https://hooks.example.com/x" {
		t.Errorf("DeliveryTarget = %q", j.DeliveryTarget)
	}
	if j.DeliverySchedule != "0 2 * * *" {
		t.Errorf("DeliverySchedule = %q", j.DeliverySchedule)
	}
	if j.DeliveryStatus != job.DeliveryPending {
		t.Errorf("DeliveryStatus = %q, want pending", j.DeliveryStatus)
	}
	if j.Format != export.FormatCSV {
		t.Errorf("Format = %q", j.Format)
	}
}

func TestPatchApply(t *testing.T) {
	j := job.New(id.NewExportID(), "tenant-1", "", export.Filters{Format: export.FormatJSON})
	j.Status = job.StatusProcessing
	before := j.UpdatedAt

	now := before.Add(time.Minute)
	err := job.Patch{
		Status:      job.Ptr(job.StatusReady),
		RecordCount: job.Ptr(42),
		DownloadURL: job.Ptr("https://dl/x"),
		CompletedAt: &now,
	}.Apply(j, now)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if j.Status != job.StatusReady || j.RecordCount != 42 || j.DownloadURL != "https://dl/x" {
		t.Errorf("unexpected job after patch: %+v", j)
	}
	if !j.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", j.UpdatedAt, now)
	}
	if j.CompletedAt == &now {
		t.Error("CompletedAt should be copied, not aliased")
	}
}

func TestPatchApplyRejectsInvalidTransition(t *testing.T) {
	j := job.New(id.NewExportID(), "tenant-1", "", export.Filters{})
	j.Status = job.StatusCompleted
	j.DownloadURL = "https://dl/x"

	err := job.Patch{Status: job.Ptr(job.StatusFailed)}.Apply(j, time.Now())
	if !errors.Is(err, export.ErrInvalidStatusChange) {
		t.Fatalf("expected ErrInvalidStatusChange, got %v", err)
	}
	if j.Status != job.StatusCompleted || j.DownloadURL == "" {
		t.Errorf("job mutated on rejected patch: %+v", j)
	}
}

func TestPatchApplyClearsURLWithoutArtifact(t *testing.T) {
	j := job.New(id.NewExportID(), "tenant-1", "", export.Filters{})
	j.Status = job.StatusReady
	j.DownloadURL = "https://dl/x"

	if err := (job.Patch{Status: job.Ptr(job.StatusProcessing)}).Apply(j, time.Now()); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if j.DownloadURL != "" {
		t.Errorf("DownloadURL = %q, want empty while processing", j.DownloadURL)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	j := &job.Job{ID: id.NewExportID(), ExpiresAt: &now}
	cp := j.Clone()
	*cp.ExpiresAt = now.Add(time.Hour)

	if !j.ExpiresAt.Equal(now) {
		t.Error("Clone shares ExpiresAt with the original")
	}
}
