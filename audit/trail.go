package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/export/id"
)

// Trail writes entries through a Recorder, filling in the ID, timestamp,
// severity and outcome that callers leave empty.
type Trail struct {
	recorder Recorder
	enabled  map[Detail]bool // nil = all enabled
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

// WithDetails restricts the trail to the listed details. Entries with any
// other detail are dropped silently. By default every detail is recorded.
func WithDetails(details ...Detail) Option {
	return func(t *Trail) {
		t.enabled = make(map[Detail]bool, len(details))
		for _, d := range details {
			t.enabled[d] = true
		}
	}
}

// WithLogger sets a custom logger for the trail.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates a Trail that records through r.
func NewTrail(r Recorder, opts ...Option) *Trail {
	t := &Trail{
		recorder: r,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record completes e and appends it. The recorder's error is returned
// wrapped so that callers can decide whether a lost audit entry is fatal.
func (t *Trail) Record(ctx context.Context, e *Entry) error {
	if t.enabled != nil && !t.enabled[e.StatusDetail] {
		return nil
	}

	if e.ID.IsNil() {
		e.ID = id.NewAuditID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.now().UTC()
	}
	if c, ok := classify[e.StatusDetail]; ok {
		if e.Severity == "" {
			e.Severity = c.severity
		}
		if e.Outcome == "" {
			e.Outcome = c.outcome
		}
	}

	if err := t.recorder.Record(ctx, e); err != nil {
		t.logger.Warn("audit: failed to record entry",
			slog.String("job_id", e.JobID.String()),
			slog.String("tenant_id", e.TenantID),
			slog.String("detail", string(e.StatusDetail)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("audit: record %s: %w", e.StatusDetail, err)
	}
	return nil
}
