// Package storetest holds the behaviour every store.Store backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
	"github.com/xraph/export/store"
)

// Factory returns a fresh, migrated, empty store.
type Factory func(t *testing.T) store.Store

// Run executes the shared suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Jobs", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("JobTransitions", func(t *testing.T) { testJobTransitions(t, newStore(t)) })
	t.Run("JobListing", func(t *testing.T) { testJobListing(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, newStore(t)) })
	t.Run("ScheduleLocks", func(t *testing.T) { testScheduleLocks(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
}

var (
	rangeStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

func filters() export.Filters {
	return export.Filters{
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Format:     export.FormatCSV,
		Delivery:   export.Delivery{Type: export.DeliveryWebhook, WebhookURL: "https://hooks.test/in"},
	}
}

func newJob(tenantID string, status job.Status) *job.Job {
	j := job.New(id.NewExportID(), tenantID, "actor-1", filters())
	j.Status = status
	j.EstimatedCount = 50_000
	j.ETASeconds = 150
	return j
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("tenant-1", job.StatusQueued)

	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, j); !errors.Is(err, export.ErrJobAlreadyExists) {
		t.Errorf("duplicate Create: expected ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.FindByID(ctx, "tenant-1", j.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.ID != j.ID || got.Status != job.StatusQueued || got.ActorID != "actor-1" {
		t.Errorf("unexpected job %+v", got)
	}
	if got.EstimatedCount != 50_000 || got.ETASeconds != 150 {
		t.Errorf("estimate = %d/%d, want 50000/150", got.EstimatedCount, got.ETASeconds)
	}
	if got.Filters.Delivery.WebhookURL != "https://hooks.test/in" || !got.Filters.RangeStart.Equal(rangeStart) {
		t.Errorf("filters did not round-trip: %+v", got.Filters)
	}
	if got.DeliveryStatus != job.DeliveryPending {
		t.Errorf("delivery status = %q, want pending", got.DeliveryStatus)
	}

	if _, err := s.FindByID(ctx, "tenant-2", j.ID); !errors.Is(err, export.ErrJobNotFound) {
		t.Errorf("foreign tenant: expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.FindByID(ctx, "tenant-1", id.NewExportID()); !errors.Is(err, export.ErrJobNotFound) {
		t.Errorf("missing job: expected ErrJobNotFound, got %v", err)
	}
}

func testJobTransitions(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob("tenant-1", job.StatusQueued)
	if err := s.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Update(ctx, j.ID, "tenant-2", job.Patch{Status: job.Ptr(job.StatusProcessing)}); !errors.Is(err, export.ErrJobNotFound) {
		t.Errorf("foreign update: expected ErrJobNotFound, got %v", err)
	}

	if _, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{Status: job.Ptr(job.StatusProcessing)}); err != nil {
		t.Fatalf("-> processing: %v", err)
	}

	completed := time.Now().UTC().Truncate(time.Second)
	expires := completed.Add(24 * time.Hour)
	ready, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{
		Status:       job.Ptr(job.StatusReady),
		RecordCount:  job.Ptr(42),
		DownloadURL:  job.Ptr("https://exports.test/dl/tenant-1/x.csv?sig=1"),
		ArtifactPath: job.Ptr("tenant-1/x.csv"),
		ExpiresAt:    &expires,
		CompletedAt:  &completed,
	})
	if err != nil {
		t.Fatalf("-> ready: %v", err)
	}
	if ready.Status != job.StatusReady || ready.RecordCount != 42 || ready.DownloadURL == "" {
		t.Errorf("unexpected ready job %+v", ready)
	}

	attempt := completed.Add(time.Minute)
	if _, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{
		DeliveryStatus:        job.Ptr(job.DeliveryFailed),
		DeliveryAttempts:      job.Ptr(3),
		DeliveryLastAttemptAt: &attempt,
	}); err != nil {
		t.Fatalf("delivery update: %v", err)
	}

	got, err := s.FindByID(ctx, "tenant-1", j.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.Status != job.StatusReady || got.DeliveryStatus != job.DeliveryFailed || got.DeliveryAttempts != 3 {
		t.Errorf("unexpected persisted job %+v", got)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completedAt = %v, want %v", got.CompletedAt, completed)
	}
	if got.DeliveryLastAttemptAt == nil || !got.DeliveryLastAttemptAt.Equal(attempt) {
		t.Errorf("lastAttemptAt = %v, want %v", got.DeliveryLastAttemptAt, attempt)
	}

	// ready -> queued is not a legal move.
	_, err = s.Update(ctx, j.ID, "tenant-1", job.Patch{Status: job.Ptr(job.StatusQueued)})
	if !errors.Is(err, export.ErrInvalidStatusChange) {
		t.Errorf("ready -> queued: expected ErrInvalidStatusChange, got %v", err)
	}
	after, err := s.FindByID(ctx, "tenant-1", j.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if after.Status != job.StatusReady {
		t.Errorf("rejected transition changed status to %q", after.Status)
	}

	// A duplicate message may reprocess a ready job.
	if _, err := s.Update(ctx, j.ID, "tenant-1", job.Patch{Status: job.Ptr(job.StatusProcessing)}); err != nil {
		t.Errorf("ready -> processing: %v", err)
	}
}

func testJobListing(t *testing.T, s store.Store) {
	ctx := context.Background()

	var ids []id.ExportID
	for i := range 4 {
		status := job.StatusQueued
		if i%2 == 1 {
			status = job.StatusFailed
		}
		j := newJob("tenant-1", status)
		if err := s.Create(ctx, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, j.ID)
		time.Sleep(2 * time.Millisecond)
	}
	if err := s.Create(ctx, newJob("tenant-2", job.StatusQueued)); err != nil {
		t.Fatalf("Create other tenant: %v", err)
	}

	all, err := s.ListByTenant(ctx, "tenant-1", job.ListOpts{})
	if err != nil {
		t.Fatalf("ListByTenant: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("jobs = %d, want 4", len(all))
	}
	if all[0].ID != ids[3] || all[3].ID != ids[0] {
		t.Errorf("expected newest first, got %s ... %s", all[0].ID, all[3].ID)
	}

	failed, err := s.ListByTenant(ctx, "tenant-1", job.ListOpts{Status: job.StatusFailed})
	if err != nil {
		t.Fatalf("ListByTenant status: %v", err)
	}
	if len(failed) != 2 {
		t.Errorf("failed jobs = %d, want 2", len(failed))
	}

	page, err := s.ListByTenant(ctx, "tenant-1", job.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListByTenant page: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] {
		t.Errorf("page = %d jobs starting at %v, want 2 starting at %s", len(page), firstID(page), ids[2])
	}
}

func firstID(jobs []*job.Job) string {
	if len(jobs) == 0 {
		return "<none>"
	}
	return jobs[0].ID.String()
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	jobID := id.NewExportID()
	f := filters()

	details := []audit.Detail{audit.DetailAsyncEnqueued, audit.DetailAsyncProcessing, audit.DetailAsyncFailed}
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, d := range details {
		e := &audit.Entry{
			ID:           id.NewAuditID(),
			JobID:        jobID,
			TenantID:     "tenant-1",
			ActorID:      "actor-1",
			Status:       "queued",
			StatusDetail: d,
			Filters:      &f,
			RecordCount:  i,
			Severity:     audit.SeverityInfo,
			Outcome:      audit.OutcomeSuccess,
			CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
		}
		if d == audit.DetailAsyncFailed {
			e.Error = "warehouse timeout"
			e.Metadata = map[string]any{"attempt": "1"}
		}
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record %s: %v", d, err)
		}
		time.Sleep(time.Millisecond)
	}

	entries, err := s.ListByJob(ctx, "tenant-1", jobID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.StatusDetail != details[i] {
			t.Errorf("entry %d detail = %q, want %q", i, e.StatusDetail, details[i])
		}
	}
	last := entries[2]
	if last.Error != "warehouse timeout" || fmt.Sprint(last.Metadata["attempt"]) != "1" {
		t.Errorf("unexpected last entry %+v", last)
	}
	if last.Filters == nil || last.Filters.Format != export.FormatCSV {
		t.Errorf("filters did not round-trip: %+v", last.Filters)
	}

	foreign, err := s.ListByJob(ctx, "tenant-2", jobID)
	if err != nil {
		t.Fatalf("ListByJob foreign: %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("foreign tenant sees %d entries", len(foreign))
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func newEntry(tenantID string) *cron.Entry {
	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	return &cron.Entry{
		Entity:     export.NewEntity(),
		ID:         id.NewScheduleID(),
		TenantID:   tenantID,
		JobID:      id.NewExportID(),
		Schedule:   "0 * * * *",
		WebhookURL: "https://hooks.test/in",
		Payload:    json.RawMessage(`{"jobId":"x"}`),
		NextRunAt:  &next,
		Enabled:    true,
	}
}

func testSchedules(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("tenant-1")
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := s.CreateSchedule(ctx, newEntry("tenant-2")); err != nil {
		t.Fatalf("CreateSchedule other tenant: %v", err)
	}

	got, err := s.GetSchedule(ctx, "tenant-1", e.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.Schedule != "0 * * * *" || got.JobID != e.JobID || !got.Enabled {
		t.Errorf("unexpected entry %+v", got)
	}
	var payload map[string]string
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["jobId"] != "x" {
		t.Errorf("payload = %s (%v)", got.Payload, err)
	}
	if _, err := s.GetSchedule(ctx, "tenant-2", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("foreign GetSchedule: expected ErrScheduleNotFound, got %v", err)
	}

	own, err := s.ListSchedules(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(own) != 1 {
		t.Errorf("tenant entries = %d, want 1", len(own))
	}
	all, err := s.ListSchedules(ctx, "")
	if err != nil {
		t.Fatalf("ListSchedules all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all entries = %d, want 2", len(all))
	}

	ran := time.Now().UTC().Truncate(time.Second)
	got.LastRunAt = &ran
	got.Enabled = false
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	updated, err := s.GetSchedule(ctx, "tenant-1", e.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if updated.Enabled || updated.LastRunAt == nil || !updated.LastRunAt.Equal(ran) {
		t.Errorf("update not persisted: %+v", updated)
	}

	if err := s.DeleteSchedule(ctx, "tenant-2", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("foreign DeleteSchedule: expected ErrScheduleNotFound, got %v", err)
	}
	if err := s.DeleteSchedule(ctx, "tenant-1", e.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}
	if _, err := s.GetSchedule(ctx, "tenant-1", e.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("deleted entry still readable: %v", err)
	}
}

func testScheduleLocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	e := newEntry("tenant-1")
	if err := s.CreateSchedule(ctx, e); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	w1, w2 := id.NewWorkerID(), id.NewWorkerID()

	ok, err := s.AcquireScheduleLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 acquire: %v, %v", ok, err)
	}
	ok, err = s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute)
	if err != nil || ok {
		t.Fatalf("w2 acquire while held: %v, %v", ok, err)
	}
	ok, err = s.AcquireScheduleLock(ctx, e.ID, w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w1 re-acquire: %v, %v", ok, err)
	}

	// Updating the entry must not drop the lock.
	cur, err := s.GetSchedule(ctx, "tenant-1", e.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	cur.LockedBy = ""
	cur.LockedUntil = nil
	if err := s.UpdateSchedule(ctx, cur); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	ok, err = s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute)
	if err != nil || ok {
		t.Fatalf("w2 acquire after update: %v, %v", ok, err)
	}

	if err := s.ReleaseScheduleLock(ctx, e.ID, w2); err != nil {
		t.Fatalf("w2 release of foreign lock: %v", err)
	}
	if err := s.ReleaseScheduleLock(ctx, e.ID, w1); err != nil {
		t.Fatalf("w1 release: %v", err)
	}
	ok, err = s.AcquireScheduleLock(ctx, e.ID, w2, time.Minute)
	if err != nil || !ok {
		t.Fatalf("w2 acquire after release: %v, %v", ok, err)
	}

	if _, err := s.AcquireScheduleLock(ctx, id.NewScheduleID(), w1, time.Minute); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("missing entry: expected ErrScheduleNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Sessions
// ──────────────────────────────────────────────────

func session(idx int, mode string, wave int, started time.Time) analytics.Session {
	ended := started.Add(10 * time.Minute)
	return analytics.Session{
		SessionID:           fmt.Sprintf("s-%03d", idx),
		PlayerID:            fmt.Sprintf("p-%d", idx%3),
		Mode:                mode,
		WaveReached:         wave,
		DurationSeconds:     600,
		TotalScore:          int64(1000 * idx),
		ResourcesCollected:  int64(10 * idx),
		DominantElementUsed: "fire",
		SkillsUsage:         map[string]any{"dash": float64(idx)},
		DefeatCause:         "boss",
		StartedAt:           &started,
		EndedAt:             &ended,
	}
}

func testSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := rangeStart.Add(24 * time.Hour)
	out := rangeEnd.Add(24 * time.Hour)

	sessions := []analytics.Session{
		session(1, "survival", 10, in),
		session(2, "survival", 2, in.Add(time.Hour)),
		session(3, "endless", 12, in.Add(2*time.Hour)),
		session(4, "survival", 15, out),
	}
	n, err := s.LoadSessions(ctx, "tenant-1", sessions)
	if err != nil || n != 4 {
		t.Fatalf("LoadSessions: %d, %v", n, err)
	}
	if _, err := s.LoadSessions(ctx, "tenant-2", []analytics.Session{session(9, "survival", 10, in)}); err != nil {
		t.Fatalf("LoadSessions other tenant: %v", err)
	}

	f := filters()
	est, err := s.EstimateSessionCount(ctx, "tenant-1", &f)
	if err != nil {
		t.Fatalf("EstimateSessionCount: %v", err)
	}
	if est.Count != 3 {
		t.Errorf("range count = %d, want 3", est.Count)
	}

	f.GameMode = "survival"
	f.MinCompletedWave = 5
	raw, err := s.FetchSessions(ctx, "tenant-1", &f)
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}
	got := analytics.Normalize(raw)
	if len(got) != 1 {
		t.Fatalf("filtered sessions = %d, want 1", len(got))
	}
	s1 := got[0]
	if s1.SessionID != "s-001" || s1.WaveReached != 10 || s1.TotalScore != 1000 || s1.DominantElementUsed != "fire" {
		t.Errorf("unexpected session %+v", s1)
	}
	if s1.StartedAt == nil || !s1.StartedAt.Equal(in) {
		t.Errorf("startedAt = %v, want %v", s1.StartedAt, in)
	}
	if fmt.Sprint(s1.SkillsUsage["dash"]) != "1" {
		t.Errorf("skills usage = %v", s1.SkillsUsage)
	}

	// Reloading an existing session replaces it.
	replaced := session(1, "survival", 20, in)
	if _, err := s.LoadSessions(ctx, "tenant-1", []analytics.Session{replaced}); err != nil {
		t.Fatalf("LoadSessions replace: %v", err)
	}
	raw, err = s.FetchSessions(ctx, "tenant-1", &f)
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}
	got = analytics.Normalize(raw)
	if len(got) != 1 || got[0].WaveReached != 20 {
		t.Errorf("after replace: %+v", got)
	}
}
