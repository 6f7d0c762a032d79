package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
)

// Ensure Store implements every subsystem at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Repository       = (*Store)(nil)
	_ audit.Repository     = (*Store)(nil)
	_ cron.Store           = (*Store)(nil)
	_ analytics.Repository = (*Store)(nil)
	_ analytics.Loader     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs      map[string]*job.Job
	audits    []*audit.Entry
	schedules map[string]*cron.Entry
	sessions  map[string][]analytics.RawSession // key: tenant ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		schedules: make(map[string]*cron.Entry),
		sessions:  make(map[string][]analytics.RawSession),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Repository
// ──────────────────────────────────────────────────

// Create persists a new job.
func (m *Store) Create(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return export.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()
	return nil
}

// Update applies patch to a job owned by tenantID.
func (m *Store) Update(_ context.Context, jobID id.ExportID, tenantID string, patch job.Patch) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.TenantID != tenantID {
		return nil, export.ErrJobNotFound
	}
	cp := j.Clone()
	if err := patch.Apply(cp, time.Now()); err != nil {
		return nil, err
	}
	m.jobs[jobID.String()] = cp
	return cp.Clone(), nil
}

// FindByID retrieves a job owned by tenantID.
func (m *Store) FindByID(_ context.Context, tenantID string, jobID id.ExportID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.TenantID != tenantID {
		return nil, export.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListByTenant returns the tenant's jobs, newest first.
func (m *Store) ListByTenant(_ context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		result = append(result, j.Clone())
	}

	// Export IDs are time-ordered, so ID order is creation order.
	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() > result[k].ID.String()
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Audit Repository
// ──────────────────────────────────────────────────

// Record appends an audit entry.
func (m *Store) Record(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if e.Filters != nil {
		f := *e.Filters
		cp.Filters = &f
	}
	m.audits = append(m.audits, &cp)
	return nil
}

// ListByJob returns the entries of a job in the order they were recorded.
func (m *Store) ListByJob(_ context.Context, tenantID string, jobID id.ExportID) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*audit.Entry
	for _, e := range m.audits {
		if e.TenantID == tenantID && e.JobID.String() == jobID.String() {
			cp := *e
			result = append(result, &cp)
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Cron Store
// ──────────────────────────────────────────────────

// CreateSchedule persists a new schedule entry.
func (m *Store) CreateSchedule(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, exists := m.schedules[key]; exists {
		return export.ErrJobAlreadyExists
	}
	m.schedules[key] = entry.Clone()
	return nil
}

// GetSchedule retrieves an entry owned by tenantID.
func (m *Store) GetSchedule(_ context.Context, tenantID string, entryID id.ScheduleID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.schedules[entryID.String()]
	if !ok || e.TenantID != tenantID {
		return nil, export.ErrScheduleNotFound
	}
	return e.Clone(), nil
}

// ListSchedules returns the entries of tenantID, or all entries when
// tenantID is empty.
func (m *Store) ListSchedules(_ context.Context, tenantID string) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.schedules))
	for _, e := range m.schedules {
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		result = append(result, e.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ID.String() < result[k].ID.String()
	})

	return result, nil
}

// UpdateSchedule updates the mutable fields of an entry. Lock fields are
// managed by AcquireScheduleLock and ReleaseScheduleLock only.
func (m *Store) UpdateSchedule(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[entry.ID.String()]
	if !ok {
		return export.ErrScheduleNotFound
	}
	updated := entry.Clone()
	updated.LockedBy = e.LockedBy
	updated.LockedUntil = e.LockedUntil
	updated.UpdatedAt = time.Now().UTC()
	m.schedules[entry.ID.String()] = updated
	return nil
}

// DeleteSchedule removes an entry owned by tenantID.
func (m *Store) DeleteSchedule(_ context.Context, tenantID string, entryID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[entryID.String()]
	if !ok || e.TenantID != tenantID {
		return export.ErrScheduleNotFound
	}
	delete(m.schedules, entryID.String())
	return nil
}

// AcquireScheduleLock attempts to lock an entry for workerID.
func (m *Store) AcquireScheduleLock(_ context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[entryID.String()]
	if !ok {
		return false, export.ErrScheduleNotFound
	}

	now := time.Now().UTC()

	// If already locked by someone else and lock hasn't expired, fail.
	if e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now) {
		if e.LockedBy != workerID.String() {
			return false, nil
		}
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseScheduleLock releases a lock held by workerID.
func (m *Store) ReleaseScheduleLock(_ context.Context, entryID id.ScheduleID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.schedules[entryID.String()]
	if !ok {
		return export.ErrScheduleNotFound
	}

	if e.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}

	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// ──────────────────────────────────────────────────
// Analytics Repository
// ──────────────────────────────────────────────────

// AddSessions seeds raw sessions for tenantID.
func (m *Store) AddSessions(tenantID string, sessions ...analytics.RawSession) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[tenantID] = append(m.sessions[tenantID], sessions...)
}

// LoadSessions stores normalized sessions for tenantID, replacing any
// session with the same ID.
func (m *Store) LoadSessions(_ context.Context, tenantID string, sessions []analytics.Session) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.sessions[tenantID]
	index := make(map[string]int, len(existing))
	for i, s := range analytics.Normalize(existing) {
		if s.SessionID != "" {
			index[s.SessionID] = i
		}
	}

	for _, s := range sessions {
		raw := sessionToRaw(s)
		if i, ok := index[s.SessionID]; ok && s.SessionID != "" {
			existing[i] = raw
			continue
		}
		index[s.SessionID] = len(existing)
		existing = append(existing, raw)
	}
	m.sessions[tenantID] = existing
	return len(sessions), nil
}

func sessionToRaw(s analytics.Session) analytics.RawSession {
	raw := analytics.RawSession{
		"sessionId":           s.SessionID,
		"playerId":            s.PlayerID,
		"mode":                s.Mode,
		"waveReached":         s.WaveReached,
		"durationSeconds":     s.DurationSeconds,
		"totalScore":          s.TotalScore,
		"resourcesCollected":  s.ResourcesCollected,
		"dominantElementUsed": s.DominantElementUsed,
		"skillsUsage":         s.SkillsUsage,
		"defeatCause":         s.DefeatCause,
	}
	if s.StartedAt != nil {
		raw["startedAt"] = *s.StartedAt
	}
	if s.EndedAt != nil {
		raw["endedAt"] = *s.EndedAt
	}
	return raw
}

// EstimateSessionCount counts the matching sessions exactly. The duration
// is reported as unknown.
func (m *Store) EstimateSessionCount(ctx context.Context, tenantID string, filters *export.Filters) (analytics.Estimate, error) {
	matched, err := m.FetchSessions(ctx, tenantID, filters)
	if err != nil {
		return analytics.Estimate{}, err
	}
	return analytics.Estimate{Count: len(matched)}, nil
}

// FetchSessions returns the tenant's sessions that match filters.
func (m *Store) FetchSessions(_ context.Context, tenantID string, filters *export.Filters) ([]analytics.RawSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw := m.sessions[tenantID]
	normalized := analytics.Normalize(raw)

	result := make([]analytics.RawSession, 0, len(raw))
	for i, s := range normalized {
		if analytics.Matches(filters, s) {
			result = append(result, raw[i])
		}
	}
	return result, nil
}
