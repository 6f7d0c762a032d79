package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Repository tests
// ──────────────────────────────────────────────────

func testFilters() export.Filters {
	return export.Filters{
		RangeStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Format:     export.FormatCSV,
		Delivery:   export.Delivery{Type: export.DeliveryImmediate},
	}
}

func newJob(tenantID string, status job.Status) *job.Job {
	j := job.New(id.NewExportID(), tenantID, "actor-1", testFilters())
	j.Status = status
	return j
}

func TestJobCreateAndFind(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("tenant-1", job.StatusQueued)

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{"create new job", func() error { return s.Create(ctx, j) }, nil},
		{"create duplicate job", func() error { return s.Create(ctx, j) }, export.ErrJobAlreadyExists},
		{"find own job", func() error { _, err := s.FindByID(ctx, "tenant-1", j.ID); return err }, nil},
		{"find other tenant's job", func() error { _, err := s.FindByID(ctx, "tenant-2", j.ID); return err }, export.ErrJobNotFound},
		{"find missing job", func() error { _, err := s.FindByID(ctx, "tenant-1", id.NewExportID()); return err }, export.ErrJobNotFound},
	}

	for _, tt := range tests {
		if err := tt.fn(); !errors.Is(err, tt.wantErr) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestJobCreate_StoresCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("tenant-1", job.StatusQueued)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	j.Status = job.StatusFailed

	got, err := s.FindByID(ctx, "tenant-1", j.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != job.StatusQueued {
		t.Errorf("stored status = %q, want queued", got.Status)
	}
}

func TestJobUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("tenant-1", job.StatusQueued)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{Status: job.Ptr(job.StatusProcessing)})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != job.StatusProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}

	now := time.Now().UTC()
	got, err = s.Update(ctx, j.ID, "tenant-1", job.Patch{
		Status:      job.Ptr(job.StatusReady),
		RecordCount: job.Ptr(42),
		DownloadURL: job.Ptr("https://x/y"),
		CompletedAt: &now,
	})
	if err != nil {
		t.Fatalf("Update ready: %v", err)
	}
	if got.RecordCount != 42 || got.DownloadURL != "https://x/y" || got.CompletedAt == nil {
		t.Errorf("ready job = %+v", got)
	}

	if _, err := s.Update(ctx, j.ID, "tenant-2", job.Patch{}); !errors.Is(err, export.ErrJobNotFound) {
		t.Errorf("cross-tenant update err = %v, want ErrJobNotFound", err)
	}
}

func TestJobUpdate_InvalidTransitionLeavesJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newJob("tenant-1", job.StatusCompleted)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{
		Status:        job.Ptr(job.StatusFailed),
		FailureReason: job.Ptr("late failure"),
	})
	if !errors.Is(err, export.ErrInvalidStatusChange) {
		t.Fatalf("err = %v, want ErrInvalidStatusChange", err)
	}

	got, _ := s.FindByID(ctx, "tenant-1", j.ID)
	if got.Status != job.StatusCompleted || got.FailureReason != "" {
		t.Errorf("job changed after rejected update: %+v", got)
	}
}

func TestJobListByTenant(t *testing.T) {
	s := New()
	ctx := context.Background()

	var ids []id.ExportID
	for i := 0; i < 3; i++ {
		j := newJob("tenant-1", job.StatusQueued)
		if i == 2 {
			j.Status = job.StatusFailed
		}
		ids = append(ids, j.ID)
		if err := s.Create(ctx, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := s.Create(ctx, newJob("tenant-2", job.StatusQueued)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	all, err := s.ListByTenant(ctx, "tenant-1", job.ListOpts{})
	if err != nil {
		t.Fatalf("ListByTenant: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID.String() != ids[2].String() {
		t.Errorf("first = %s, want newest %s", all[0].ID, ids[2])
	}

	failed, _ := s.ListByTenant(ctx, "tenant-1", job.ListOpts{Status: job.StatusFailed})
	if len(failed) != 1 {
		t.Errorf("failed len = %d, want 1", len(failed))
	}

	page, _ := s.ListByTenant(ctx, "tenant-1", job.ListOpts{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID.String() != ids[1].String() {
		t.Errorf("page = %v", page)
	}

	empty, _ := s.ListByTenant(ctx, "tenant-1", job.ListOpts{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("offset past end returned %d jobs", len(empty))
	}
}

// ──────────────────────────────────────────────────
// Audit Repository tests
// ──────────────────────────────────────────────────

func TestAuditRecordAndList(t *testing.T) {
	s := New()
	ctx := context.Background()

	jobID := id.NewExportID()
	details := []audit.Detail{audit.DetailAsyncEnqueued, audit.DetailAsyncProcessing, audit.DetailAsyncReady}
	for _, d := range details {
		if err := s.Record(ctx, &audit.Entry{ID: id.NewAuditID(), JobID: jobID, TenantID: "tenant-1", StatusDetail: d}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	_ = s.Record(ctx, &audit.Entry{ID: id.NewAuditID(), JobID: jobID, TenantID: "tenant-2", StatusDetail: audit.DetailSyncReady})

	got, err := s.ListByJob(ctx, "tenant-1", jobID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(got) != len(details) {
		t.Fatalf("len = %d, want %d", len(got), len(details))
	}
	for i, d := range details {
		if got[i].StatusDetail != d {
			t.Errorf("entry %d = %q, want %q", i, got[i].StatusDetail, d)
		}
	}
}

// ──────────────────────────────────────────────────
// Cron Store tests
// ──────────────────────────────────────────────────

func newSchedule(tenantID string) *cron.Entry {
	next := time.Now().UTC().Add(time.Hour)
	return &cron.Entry{
		Entity:     export.NewEntity(),
		ID:         id.NewScheduleID(),
		TenantID:   tenantID,
		JobID:      id.NewExportID(),
		Schedule:   "0 2 * * *",
		WebhookURL: "https://hooks.example.com/x",
		Payload:    []byte(`{"status":"ready"}`),
		NextRunAt:  &next,
		Enabled:    true,
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := newSchedule("tenant-1")
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	_ = s.CreateSchedule(ctx, newSchedule("tenant-2"))

	got, err := s.GetSchedule(ctx, "tenant-1", e.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Schedule != "0 2 * * *" || string(got.Payload) != `{"status":"ready"}` {
		t.Errorf("entry = %+v", got)
	}
	if _, err := s.GetSchedule(ctx, "tenant-2", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("cross-tenant get err = %v", err)
	}

	mine, _ := s.ListSchedules(ctx, "tenant-1")
	all, _ := s.ListSchedules(ctx, "")
	if len(mine) != 1 || len(all) != 2 {
		t.Errorf("list tenant = %d, all = %d, want 1 and 2", len(mine), len(all))
	}

	got.Enabled = false
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	got, _ = s.GetSchedule(ctx, "tenant-1", e.ID)
	if got.Enabled {
		t.Error("entry still enabled after update")
	}

	if err := s.DeleteSchedule(ctx, "tenant-2", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("cross-tenant delete err = %v", err)
	}
	if err := s.DeleteSchedule(ctx, "tenant-1", e.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := s.GetSchedule(ctx, "tenant-1", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
}

func TestScheduleLock(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := newSchedule("tenant-1")
	_ = s.CreateSchedule(ctx, e)

	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireScheduleLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 acquire = %v, %v", ok, err)
	}
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute); ok {
		t.Error("w2 acquired a held lock")
	}
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, w1, time.Minute); !ok {
		t.Error("w1 could not re-acquire its own lock")
	}

	// An update must not drop the lock.
	cp, _ := s.GetSchedule(ctx, "tenant-1", e.ID)
	cp.LockedBy = ""
	_ = s.UpdateSchedule(ctx, cp)
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute); ok {
		t.Error("update released the lock")
	}

	_ = s.ReleaseScheduleLock(ctx, e.ID, w2) // not holder: no-op
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute); ok {
		t.Error("non-holder release freed the lock")
	}

	if err := s.ReleaseScheduleLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute); !ok {
		t.Error("w2 could not acquire a released lock")
	}
}

func TestScheduleLock_Expires(t *testing.T) {
	s := New()
	ctx := context.Background()

	e := newSchedule("tenant-1")
	_ = s.CreateSchedule(ctx, e)

	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, id.NewWorkerID(), time.Millisecond); !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, id.NewWorkerID(), time.Minute); !ok {
		t.Error("expired lock was not taken over")
	}
}

// ──────────────────────────────────────────────────
// Analytics Repository tests
// ──────────────────────────────────────────────────

func TestAnalytics_FiltersSessions(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.AddSessions("tenant-1",
		map[string]any{"sessionId": "a", "mode": "endless", "waveReached": 10, "startedAt": "2024-01-10T00:00:00Z"},
		map[string]any{"sessionId": "b", "gameMode": "story", "waveReached": 10, "startedAt": "2024-01-11T00:00:00Z"},
		map[string]any{"sessionId": "c", "mode": "endless", "waveReached": 2, "startedAt": "2024-01-12T00:00:00Z"},
		map[string]any{"sessionId": "d", "mode": "endless", "waveReached": 10, "startedAt": "2023-06-01T00:00:00Z"},
	)
	s.AddSessions("tenant-2", map[string]any{"sessionId": "z", "mode": "endless", "waveReached": 10, "startedAt": "2024-01-10T00:00:00Z"})

	f := testFilters()
	f.GameMode = "endless"
	f.MinCompletedWave = 5

	got, err := s.FetchSessions(ctx, "tenant-1", &f)
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}
	if len(got) != 1 || got[0]["sessionId"] != "a" {
		t.Errorf("sessions = %v, want only a", got)
	}

	est, err := s.EstimateSessionCount(ctx, "tenant-1", &f)
	if err != nil {
		t.Fatalf("EstimateSessionCount: %v", err)
	}
	if est.Count != 1 || est.EstimatedDuration != 0 {
		t.Errorf("estimate = %+v, want count 1 with unknown duration", est)
	}

	all := testFilters()
	est, _ = s.EstimateSessionCount(ctx, "tenant-1", &all)
	if est.Count != 3 {
		t.Errorf("unfiltered in-range count = %d, want 3", est.Count)
	}
}
