package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
)

// Request asks for a recurring delivery of Payload to WebhookURL.
type Request struct {
	TenantID   string
	JobID      id.ExportID
	Cron       string
	WebhookURL string
	Payload    any
}

// FireFunc delivers one occurrence of an entry.
type FireFunc func(ctx context.Context, entry *Entry) error

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithFire sets the function invoked for every due entry.
func WithFire(fn FireFunc) SchedulerOption {
	return func(s *Scheduler) { s.fire = fn }
}

// WithWorkerID sets the identity used for entry locks.
func WithWorkerID(wid id.WorkerID) SchedulerOption {
	return func(s *Scheduler) { s.workerID = wid }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports the standard 5-field cron syntax.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// ParseSchedule parses a 5-field cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler registers and optionally fires recurring deliveries.
type Scheduler struct {
	store    Store
	fire     FireFunc
	workerID id.WorkerID
	logger   *slog.Logger
	now      func() time.Time

	tickInterval time.Duration
	lockTTL      time.Duration

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	runMu   sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler creates a Scheduler backed by store.
func NewScheduler(store Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:        store,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		now:          time.Now,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers a recurring delivery. It never dispatches.
func (s *Scheduler) Schedule(ctx context.Context, req Request) error {
	_, err := s.Register(ctx, req)
	return err
}

// Register is Schedule returning the persisted entry.
func (s *Scheduler) Register(ctx context.Context, req Request) (*Entry, error) {
	if req.TenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	if req.WebhookURL == "" {
		return nil, export.NewValidationError("delivery.webhookUrl", "required")
	}
	sched, err := s.getOrParseSchedule(req.Cron)
	if err != nil {
		return nil, &export.ValidationError{Field: "delivery.schedule", Reason: err.Error()}
	}

	var payload json.RawMessage
	if req.Payload != nil {
		payload, err = json.Marshal(req.Payload)
		if err != nil {
			return nil, fmt.Errorf("cron: encode payload: %w", err)
		}
	}

	now := s.now().UTC()
	next := sched.Next(now)
	entry := &Entry{
		Entity:     export.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewScheduleID(),
		TenantID:   req.TenantID,
		JobID:      req.JobID,
		Schedule:   req.Cron,
		WebhookURL: req.WebhookURL,
		Payload:    payload,
		NextRunAt:  &next,
		Enabled:    true,
	}
	if err := s.store.CreateSchedule(ctx, entry); err != nil {
		return nil, fmt.Errorf("cron: create schedule: %w", err)
	}

	s.logger.Info("webhook delivery scheduled",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("tenant_id", entry.TenantID),
		slog.String("job_id", entry.JobID.String()),
		slog.String("schedule", entry.Schedule),
		slog.Time("next_run_at", next),
	)
	return entry, nil
}

// List returns the entries registered for tenantID.
func (s *Scheduler) List(ctx context.Context, tenantID string) ([]*Entry, error) {
	if tenantID == "" {
		return nil, export.NewValidationError("tenantId", "required")
	}
	return s.store.ListSchedules(ctx, tenantID)
}

// Cancel removes an entry owned by tenantID.
func (s *Scheduler) Cancel(ctx context.Context, tenantID string, entryID id.ScheduleID) error {
	if err := s.store.DeleteSchedule(ctx, tenantID, entryID); err != nil {
		return err
	}
	s.logger.Info("webhook schedule cancelled",
		slog.String("schedule_id", entryID.String()),
		slog.String("tenant_id", tenantID),
	)
	return nil
}

// SetEnabled pauses or resumes an entry. Resuming recomputes NextRunAt
// from the current time so missed occurrences are skipped.
func (s *Scheduler) SetEnabled(ctx context.Context, tenantID string, entryID id.ScheduleID, enabled bool) (*Entry, error) {
	entry, err := s.store.GetSchedule(ctx, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	entry.Enabled = enabled
	entry.UpdatedAt = now
	if enabled {
		sched, err := s.getOrParseSchedule(entry.Schedule)
		if err != nil {
			return nil, fmt.Errorf("cron: parse %q: %w", entry.Schedule, err)
		}
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	if err := s.store.UpdateSchedule(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ──────────────────────────────────────────────────
// Firing loop
// ──────────────────────────────────────────────────

// Start launches the tick loop. It is a no-op without a FireFunc.
func (s *Scheduler) Start(_ context.Context) error {
	if s.fire == nil {
		return nil
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.tickLoop(s.stopCh)
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the tick loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick fires every due entry once. It is called by the tick loop and may
// be called directly.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.fire == nil {
		return
	}
	entries, err := s.store.ListSchedules(ctx, "")
	if err != nil {
		s.logger.Error("list schedules error", slog.String("error", err.Error()))
		return
	}

	now := s.now().UTC()
	for _, entry := range entries {
		if entry.Due(now) {
			s.fireEntry(ctx, entry, now)
		}
	}
}

// fireEntry claims entry, re-checks it against the stored copy and fires
// it. The listed entry may be stale: another scheduler can have fired and
// advanced it after the list was taken.
func (s *Scheduler) fireEntry(ctx context.Context, listed *Entry, now time.Time) {
	acquired, err := s.store.AcquireScheduleLock(ctx, listed.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire schedule lock error",
			slog.String("schedule_id", listed.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if relErr := s.store.ReleaseScheduleLock(ctx, listed.ID, s.workerID); relErr != nil {
			s.logger.Error("release schedule lock error",
				slog.String("schedule_id", listed.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	entry, err := s.store.GetSchedule(ctx, listed.TenantID, listed.ID)
	if err != nil {
		if !errors.Is(err, export.ErrScheduleNotFound) {
			s.logger.Error("reload schedule error",
				slog.String("schedule_id", listed.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if !entry.Due(now) {
		return
	}

	if fireErr := s.fire(ctx, entry); fireErr != nil {
		s.logger.Warn("scheduled delivery failed",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("tenant_id", entry.TenantID),
			slog.String("job_id", entry.JobID.String()),
			slog.String("error", fireErr.Error()),
		)
	}

	s.advance(ctx, entry, now)

	s.logger.Info("scheduled delivery fired",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("tenant_id", entry.TenantID),
		slog.String("job_id", entry.JobID.String()),
	)
}

// advance records a run at now on the latest stored copy of fired, so
// changes made while the delivery was in flight (such as pausing) are kept.
func (s *Scheduler) advance(ctx context.Context, fired *Entry, now time.Time) {
	entry, err := s.store.GetSchedule(ctx, fired.TenantID, fired.ID)
	if err != nil {
		if !errors.Is(err, export.ErrScheduleNotFound) {
			s.logger.Error("reload schedule error",
				slog.String("schedule_id", fired.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	entry.LastRunAt = &now
	entry.UpdatedAt = now
	sched, parseErr := s.getOrParseSchedule(entry.Schedule)
	if parseErr != nil {
		s.logger.Error("parse schedule error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("schedule", entry.Schedule),
			slog.String("error", parseErr.Error()),
		)
		entry.Enabled = false
	} else {
		next := sched.Next(now)
		entry.NextRunAt = &next
	}
	if updateErr := s.store.UpdateSchedule(ctx, entry); updateErr != nil {
		s.logger.Error("update schedule error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
