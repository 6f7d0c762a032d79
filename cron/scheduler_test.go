package cron_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
	"github.com/xraph/export/store/memory"
)

// fireSpy records fired entries with thread safety.
type fireSpy struct {
	mu      sync.Mutex
	entries []*cron.Entry
	err     error
}

func (f *fireSpy) Fn() cron.FireFunc {
	return func(_ context.Context, e *cron.Entry) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.entries = append(f.entries, e.Clone())
		return f.err
	}
}

func (f *fireSpy) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestSchedule_PersistsEntry(t *testing.T) {
	s := memory.New()
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	sched := cron.NewScheduler(s, cron.WithClock(fixedClock(now)))

	jobID := id.NewExportID()
	entry, err := sched.Register(context.Background(), cron.Request{
		TenantID:   "tenant-1",
		JobID:      jobID,
		Cron:       "0 2 * * *",
		WebhookURL: "https://x",
		Payload:    map[string]any{"downloadUrl": "https://d/1"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := time.Date(2024, 6, 2, 2, 0, 0, 0, time.UTC)
	if entry.NextRunAt == nil || !entry.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", entry.NextRunAt, want)
	}
	if !entry.Enabled {
		t.Error("entry not enabled")
	}

	got, err := s.GetSchedule(context.Background(), "tenant-1", entry.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.JobID.String() != jobID.String() || got.WebhookURL != "https://x" {
		t.Errorf("stored entry = %+v", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(got.Payload, &payload); err != nil || payload["downloadUrl"] != "https://d/1" {
		t.Errorf("payload = %s (%v)", got.Payload, err)
	}
}

func TestSchedule_Validation(t *testing.T) {
	sched := cron.NewScheduler(memory.New())
	ctx := context.Background()

	tests := []struct {
		name string
		req  cron.Request
	}{
		{"missing tenant", cron.Request{Cron: "0 2 * * *", WebhookURL: "https://x"}},
		{"missing url", cron.Request{TenantID: "t", Cron: "0 2 * * *"}},
		{"bad expression", cron.Request{TenantID: "t", Cron: "every day", WebhookURL: "https://x"}},
		{"six fields", cron.Request{TenantID: "t", Cron: "0 0 2 * * *", WebhookURL: "https://x"}},
	}
	for _, tt := range tests {
		if err := sched.Schedule(ctx, tt.req); !errors.Is(err, export.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", tt.name, err)
		}
	}
}

func TestListAndCancel(t *testing.T) {
	s := memory.New()
	sched := cron.NewScheduler(s)
	ctx := context.Background()

	e1, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "*/5 * * * *", WebhookURL: "https://a"})
	_, _ = sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://b"})
	_, _ = sched.Register(ctx, cron.Request{TenantID: "t2", Cron: "0 * * * *", WebhookURL: "https://c"})

	list, err := sched.List(ctx, "t1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}

	if err := sched.Cancel(ctx, "t2", e1.ID); !errors.Is(err, export.ErrScheduleNotFound) {
		t.Errorf("cross-tenant cancel err = %v", err)
	}
	if err := sched.Cancel(ctx, "t1", e1.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	list, _ = sched.List(ctx, "t1")
	if len(list) != 1 {
		t.Errorf("List after cancel = %d, want 1", len(list))
	}

	if _, err := sched.List(ctx, ""); !errors.Is(err, export.ErrValidation) {
		t.Errorf("List without tenant err = %v", err)
	}
}

func TestSetEnabled(t *testing.T) {
	s := memory.New()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	sched := cron.NewScheduler(s, cron.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	e, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})

	got, err := sched.SetEnabled(ctx, "t1", e.ID, false)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if got.Enabled {
		t.Error("still enabled")
	}

	clock = now.Add(5 * time.Hour)
	got, err = sched.SetEnabled(ctx, "t1", e.ID, true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	want := time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC)
	if !got.Enabled || got.NextRunAt == nil || !got.NextRunAt.Equal(want) {
		t.Errorf("resumed entry = enabled %v next %v, want next %v", got.Enabled, got.NextRunAt, want)
	}
}

func TestTick_FiresDueEntriesOnly(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	spy := &fireSpy{}
	sched := cron.NewScheduler(s,
		cron.WithFire(spy.Fn()),
		cron.WithClock(func() time.Time { return clock }),
	)

	due, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	_, _ = sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 0 * * *", WebhookURL: "https://b"})
	paused, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://c"})
	_, _ = sched.SetEnabled(ctx, "t1", paused.ID, false)

	sched.Tick(ctx) // nothing due yet
	if spy.Count() != 0 {
		t.Fatalf("fired %d entries before due", spy.Count())
	}

	clock = now.Add(time.Hour)
	sched.Tick(ctx)
	if spy.Count() != 1 {
		t.Fatalf("fired %d entries, want 1", spy.Count())
	}
	if spy.entries[0].ID.String() != due.ID.String() {
		t.Errorf("fired %s, want %s", spy.entries[0].ID, due.ID)
	}

	got, _ := s.GetSchedule(ctx, "t1", due.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(clock) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, clock)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(clock.Add(time.Hour)) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, clock.Add(time.Hour))
	}
	if got.LockedBy != "" {
		t.Error("lock not released after fire")
	}

	sched.Tick(ctx) // same instant: already advanced
	if spy.Count() != 1 {
		t.Errorf("entry fired twice for one occurrence")
	}
}

func TestTick_FireErrorStillAdvances(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	spy := &fireSpy{err: errors.New("endpoint down")}
	sched := cron.NewScheduler(s, cron.WithFire(spy.Fn()), cron.WithClock(func() time.Time { return clock }))

	e, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	clock = now.Add(time.Hour)
	sched.Tick(ctx)

	got, _ := s.GetSchedule(ctx, "t1", e.ID)
	if got.NextRunAt == nil || !got.NextRunAt.After(clock) {
		t.Errorf("NextRunAt = %v, want after %v", got.NextRunAt, clock)
	}
}

func TestTick_SkipsLockedEntries(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	spy := &fireSpy{}
	sched := cron.NewScheduler(s, cron.WithFire(spy.Fn()), cron.WithClock(func() time.Time { return clock }))

	e, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	if ok, _ := s.AcquireScheduleLock(ctx, e.ID, id.NewWorkerID(), time.Minute); !ok {
		t.Fatal("could not lock entry")
	}

	clock = now.Add(time.Hour)
	sched.Tick(ctx)
	if spy.Count() != 0 {
		t.Errorf("fired an entry locked by another worker")
	}
}

func TestStartStop(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	spy := &fireSpy{}
	sched := cron.NewScheduler(s, cron.WithFire(spy.Fn()), cron.WithTickInterval(10*time.Millisecond))

	e, _ := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	got, _ := s.GetSchedule(ctx, "t1", e.ID)
	past := time.Now().UTC().Add(-time.Second)
	got.NextRunAt = &past
	_ = s.UpdateSchedule(ctx, got)

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = sched.Start(ctx) // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for spy.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if spy.Count() != 1 {
		t.Errorf("fired %d times, want 1", spy.Count())
	}
	if err := sched.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

// listHookStore runs afterList once the entry snapshot has been taken,
// before the scheduler gets to see it.
type listHookStore struct {
	cron.Store
	afterList func()
}

func (s *listHookStore) ListSchedules(ctx context.Context, tenantID string) ([]*cron.Entry, error) {
	entries, err := s.Store.ListSchedules(ctx, tenantID)
	if s.afterList != nil {
		hook := s.afterList
		s.afterList = nil
		hook()
	}
	return entries, err
}

func TestTick_StaleSnapshotDoesNotRefire(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now

	spy := &fireSpy{}
	a := cron.NewScheduler(s, cron.WithFire(spy.Fn()), cron.WithClock(func() time.Time { return clock }))
	hooked := &listHookStore{Store: s}
	b := cron.NewScheduler(hooked, cron.WithFire(spy.Fn()), cron.WithClock(func() time.Time { return clock }))

	e, err := a.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	clock = now.Add(time.Hour)
	// a fires and releases the lock while b still holds the old snapshot.
	hooked.afterList = func() { a.Tick(ctx) }
	b.Tick(ctx)

	if spy.Count() != 1 {
		t.Fatalf("occurrence at %v fired %d times, want 1", clock, spy.Count())
	}
	got, _ := s.GetSchedule(ctx, "t1", e.ID)
	if got.NextRunAt == nil || !got.NextRunAt.Equal(clock.Add(time.Hour)) {
		t.Errorf("NextRunAt = %v, want %v", got.NextRunAt, clock.Add(time.Hour))
	}
}

func TestTick_KeepsPauseMadeDuringFire(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	admin := cron.NewScheduler(s, cron.WithClock(func() time.Time { return clock }))

	var entryID id.ScheduleID
	fire := func(ctx context.Context, _ *cron.Entry) error {
		_, err := admin.SetEnabled(ctx, "t1", entryID, false)
		return err
	}
	sched := cron.NewScheduler(s, cron.WithFire(fire), cron.WithClock(func() time.Time { return clock }))

	e, err := sched.Register(ctx, cron.Request{TenantID: "t1", Cron: "0 * * * *", WebhookURL: "https://a"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	entryID = e.ID

	clock = now.Add(time.Hour)
	sched.Tick(ctx)

	got, _ := s.GetSchedule(ctx, "t1", e.ID)
	if got.Enabled {
		t.Error("pause made while the delivery was in flight was overwritten")
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(clock) {
		t.Errorf("LastRunAt = %v, want %v", got.LastRunAt, clock)
	}
}
