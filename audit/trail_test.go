package audit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/export/audit"
	"github.com/xraph/export/id"
)

// mockRecorder captures entries for verification.
type mockRecorder struct {
	mu      sync.Mutex
	entries []*audit.Entry
	err     error
}

func (m *mockRecorder) Record(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestTrailFillsDefaults(t *testing.T) {
	rec := &mockRecorder{}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	trail := audit.NewTrail(rec, audit.WithClock(func() time.Time { return fixed }))

	e := &audit.Entry{
		JobID:        id.NewExportID(),
		TenantID:     "tenant-1",
		Status:       "failed",
		StatusDetail: audit.DetailAsyncFailed,
		Error:        "boom",
	}
	if err := trail.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	if e.ID.Prefix() != id.PrefixAudit {
		t.Errorf("ID prefix = %q, want %q", e.ID.Prefix(), id.PrefixAudit)
	}
	if !e.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, fixed)
	}
	if e.Severity != audit.SeverityCritical {
		t.Errorf("Severity = %q, want critical", e.Severity)
	}
	if e.Outcome != audit.OutcomeFailure {
		t.Errorf("Outcome = %q, want failure", e.Outcome)
	}
}

func TestTrailKeepsExplicitSeverity(t *testing.T) {
	rec := &mockRecorder{}
	trail := audit.NewTrail(rec)

	e := &audit.Entry{StatusDetail: audit.DetailWebhookDelivered, Severity: audit.SeverityWarning}
	if err := trail.Record(context.Background(), e); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if e.Severity != audit.SeverityWarning {
		t.Errorf("Severity overwritten: %q", e.Severity)
	}
	if e.Outcome != audit.OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", e.Outcome)
	}
}

func TestTrailWithDetails(t *testing.T) {
	rec := &mockRecorder{}
	trail := audit.NewTrail(rec, audit.WithDetails(audit.DetailAsyncFailed))

	ctx := context.Background()
	_ = trail.Record(ctx, &audit.Entry{StatusDetail: audit.DetailAsyncReady})
	_ = trail.Record(ctx, &audit.Entry{StatusDetail: audit.DetailAsyncFailed})

	if rec.count() != 1 {
		t.Errorf("expected 1 entry after filtering, got %d", rec.count())
	}
}

func TestTrailPropagatesRecorderError(t *testing.T) {
	sentinel := errors.New("disk full")
	trail := audit.NewTrail(&mockRecorder{err: sentinel})

	err := trail.Record(context.Background(), &audit.Entry{StatusDetail: audit.DetailSyncReady})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped recorder error, got %v", err)
	}
}

func TestRecorderFunc(t *testing.T) {
	var got *audit.Entry
	r := audit.RecorderFunc(func(_ context.Context, e *audit.Entry) error {
		got = e
		return nil
	})

	want := &audit.Entry{StatusDetail: audit.DetailWebhookScheduled}
	if err := r.Record(context.Background(), want); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if got != want {
		t.Error("RecorderFunc did not forward the entry")
	}
}
