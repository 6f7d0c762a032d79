package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/export"
	"github.com/xraph/export/audit"
	"github.com/xraph/export/id"
)

// Record appends an audit entry.
func (s *Store) Record(ctx context.Context, e *audit.Entry) error {
	filters, err := jsonOrNil(e.Filters)
	if err != nil {
		return fmt.Errorf("export/postgres: encode audit filters: %w", err)
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		if metadata, err = json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("export/postgres: encode audit metadata: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO export_audit_log (
			id, job_id, tenant_id, actor_id, status, status_detail,
			filters, record_count, error, metadata, severity, outcome, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID.String(), e.JobID.String(), e.TenantID, e.ActorID, e.Status, string(e.StatusDetail),
		filters, e.RecordCount, e.Error, metadata, string(e.Severity), string(e.Outcome), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("export/postgres: record audit entry: %w", err)
	}
	return nil
}

// ListByJob returns the entries of a job in the order they were recorded.
func (s *Store) ListByJob(ctx context.Context, tenantID string, jobID id.ExportID) ([]*audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, job_id, tenant_id, actor_id, status, status_detail,
			filters, record_count, error, metadata, severity, outcome, created_at
		FROM export_audit_log
		WHERE tenant_id = $1 AND job_id = $2
		ORDER BY created_at ASC, id ASC`,
		tenantID, jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*audit.Entry
	for rows.Next() {
		e, scanErr := scanAudit(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("export/postgres: scan audit row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("export/postgres: iterate audit rows: %w", err)
	}
	return entries, nil
}

func scanAudit(row pgx.Row) (*audit.Entry, error) {
	var (
		e        audit.Entry
		idStr    string
		jobStr   string
		detail   string
		severity string
		outcome  string
		filters  []byte
		metadata []byte
	)
	err := row.Scan(
		&idStr, &jobStr, &e.TenantID, &e.ActorID, &e.Status, &detail,
		&filters, &e.RecordCount, &e.Error, &metadata, &severity, &outcome, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseAuditID(idStr); err != nil {
		return nil, fmt.Errorf("parse audit id %q: %w", idStr, err)
	}
	if e.JobID, err = id.ParseExportID(jobStr); err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", jobStr, err)
	}
	if len(filters) > 0 {
		var f export.Filters
		if err := json.Unmarshal(filters, &f); err != nil {
			return nil, fmt.Errorf("decode filters: %w", err)
		}
		e.Filters = &f
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	e.StatusDetail = audit.Detail(detail)
	e.Severity = audit.Severity(severity)
	e.Outcome = audit.Outcome(outcome)
	return &e, nil
}
