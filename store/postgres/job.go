package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
)

const jobColumns = `
	id, tenant_id, actor_id, status, format, filters,
	delivery_type, delivery_target, delivery_schedule, delivery_status,
	delivery_attempts, delivery_last_attempt_at,
	estimated_count, eta_seconds, record_count, download_url, artifact_path,
	expires_at, failure_reason, completed_at, created_at, updated_at`

// Create persists a new job.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	filters, err := json.Marshal(j.Filters)
	if err != nil {
		return fmt.Errorf("export/postgres: encode filters: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22
		)`,
		j.ID.String(), j.TenantID, j.ActorID, string(j.Status), string(j.Format), filters,
		string(j.DeliveryType), j.DeliveryTarget, j.DeliverySchedule, string(j.DeliveryStatus),
		j.DeliveryAttempts, j.DeliveryLastAttemptAt,
		j.EstimatedCount, j.ETASeconds, j.RecordCount, j.DownloadURL, j.ArtifactPath,
		j.ExpiresAt, j.FailureReason, j.CompletedAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return export.ErrJobAlreadyExists
		}
		return fmt.Errorf("export/postgres: create job: %w", err)
	}
	return nil
}

// Update applies patch to a job owned by tenantID. The row is locked for
// the duration of the read-modify-write so concurrent transitions are
// serialized.
func (s *Store) Update(ctx context.Context, jobID id.ExportID, tenantID string, patch job.Patch) (*job.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("export/postgres: begin update job: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	j, err := scanJob(tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`,
		jobID.String(), tenantID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, export.ErrJobNotFound
		}
		return nil, fmt.Errorf("export/postgres: load job: %w", err)
	}

	if err := patch.Apply(j, time.Now()); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE export_jobs SET
			status = $2, delivery_status = $3, delivery_attempts = $4,
			delivery_last_attempt_at = $5, record_count = $6, download_url = $7,
			artifact_path = $8, expires_at = $9, failure_reason = $10,
			completed_at = $11, updated_at = $12
		WHERE id = $1`,
		j.ID.String(), string(j.Status), string(j.DeliveryStatus), j.DeliveryAttempts,
		j.DeliveryLastAttemptAt, j.RecordCount, j.DownloadURL,
		j.ArtifactPath, j.ExpiresAt, j.FailureReason,
		j.CompletedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("export/postgres: commit job update: %w", err)
	}
	return j, nil
}

// FindByID retrieves a job owned by tenantID.
func (s *Store) FindByID(ctx context.Context, tenantID string, jobID id.ExportID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM export_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID.String(), tenantID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, export.ErrJobNotFound
		}
		return nil, fmt.Errorf("export/postgres: get job: %w", err)
	}
	return j, nil
}

// ListByTenant returns the tenant's jobs, newest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM export_jobs
		WHERE tenant_id = $1`
	args := []any{tenantID}
	argIdx := 2

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}

	// Export IDs are time-ordered, so ID order is creation order.
	query += " ORDER BY id DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j              job.Job
		idStr          string
		status         string
		format         string
		filters        []byte
		deliveryType   string
		deliveryStatus string
	)
	err := row.Scan(
		&idStr, &j.TenantID, &j.ActorID, &status, &format, &filters,
		&deliveryType, &j.DeliveryTarget, &j.DeliverySchedule, &deliveryStatus,
		&j.DeliveryAttempts, &j.DeliveryLastAttemptAt,
		&j.EstimatedCount, &j.ETASeconds, &j.RecordCount, &j.DownloadURL, &j.ArtifactPath,
		&j.ExpiresAt, &j.FailureReason, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseExportID(idStr)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: parse job id %q: %w", idStr, err)
	}
	if err := json.Unmarshal(filters, &j.Filters); err != nil {
		return nil, fmt.Errorf("export/postgres: decode filters of %s: %w", idStr, err)
	}

	j.ID = parsedID
	j.Status = job.Status(status)
	j.Format = export.Format(format)
	j.DeliveryType = export.DeliveryType(deliveryType)
	j.DeliveryStatus = job.DeliveryStatus(deliveryStatus)
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("export/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
