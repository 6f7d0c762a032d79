package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/export"
	"github.com/xraph/export/cron"
	"github.com/xraph/export/id"
)

const scheduleColumns = `
	id, tenant_id, job_id, schedule, webhook_url, payload,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// CreateSchedule persists a new schedule entry.
func (s *Store) CreateSchedule(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO export_schedules (`+scheduleColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.TenantID, entry.JobID.String(), entry.Schedule, entry.WebhookURL, payloadOrNil(entry.Payload),
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return export.ErrJobAlreadyExists
		}
		return fmt.Errorf("export/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry owned by tenantID.
func (s *Store) GetSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) (*cron.Entry, error) {
	e, err := scanSchedule(s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM export_schedules
		WHERE id = $1 AND tenant_id = $2`,
		entryID.String(), tenantID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, export.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("export/postgres: get schedule: %w", err)
	}
	return e, nil
}

// ListSchedules returns the entries of tenantID, or all entries when
// tenantID is empty.
func (s *Store) ListSchedules(ctx context.Context, tenantID string) ([]*cron.Entry, error) {
	query := `SELECT ` + scheduleColumns + ` FROM export_schedules`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = $1`
		args = append(args, tenantID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	entries := make([]*cron.Entry, 0)
	for rows.Next() {
		e, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("export/postgres: scan schedule row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("export/postgres: iterate schedule rows: %w", err)
	}
	return entries, nil
}

// UpdateSchedule updates the mutable fields of an entry. Lock columns are
// left to AcquireScheduleLock and ReleaseScheduleLock.
func (s *Store) UpdateSchedule(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE export_schedules SET
			schedule = $2, webhook_url = $3, payload = $4,
			last_run_at = $5, next_run_at = $6,
			enabled = $7, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Schedule, entry.WebhookURL, payloadOrNil(entry.Payload),
		entry.LastRunAt, entry.NextRunAt,
		entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("export/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return export.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes an entry owned by tenantID.
func (s *Store) DeleteSchedule(ctx context.Context, tenantID string, entryID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM export_schedules WHERE id = $1 AND tenant_id = $2`,
		entryID.String(), tenantID,
	)
	if err != nil {
		return fmt.Errorf("export/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return export.ErrScheduleNotFound
	}
	return nil
}

// AcquireScheduleLock attempts to lock an entry for workerID. It succeeds
// when the entry is unlocked, the lock expired, or workerID already holds it.
func (s *Store) AcquireScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)
	wID := workerID.String()

	tag, err := s.pool.Exec(ctx, `
		UPDATE export_schedules
		SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by = '' OR locked_until IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID.String(), wID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("export/postgres: acquire schedule lock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM export_schedules WHERE id = $1)`,
			entryID.String(),
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("export/postgres: check schedule exists: %w", existErr)
		}
		if !exists {
			return false, export.ErrScheduleNotFound
		}
		// Held by another worker.
		return false, nil
	}

	return true, nil
}

// ReleaseScheduleLock releases a lock held by workerID.
func (s *Store) ReleaseScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE export_schedules
		SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("export/postgres: release schedule lock: %w", err)
	}
	return nil
}

// scanSchedule scans a single schedule row.
func scanSchedule(row pgx.Row) (*cron.Entry, error) {
	var (
		e       cron.Entry
		idStr   string
		jobStr  string
		payload []byte
	)
	err := row.Scan(
		&idStr, &e.TenantID, &jobStr, &e.Schedule, &e.WebhookURL, &payload,
		&e.LastRunAt, &e.NextRunAt, &e.LockedBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseScheduleID(idStr); err != nil {
		return nil, fmt.Errorf("export/postgres: parse schedule id %q: %w", idStr, err)
	}
	if e.JobID, err = id.ParseExportID(jobStr); err != nil {
		return nil, fmt.Errorf("export/postgres: parse job id %q: %w", jobStr, err)
	}
	if len(payload) > 0 {
		e.Payload = payload
	}
	return &e, nil
}

func payloadOrNil(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	return p
}
