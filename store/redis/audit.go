package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/export/audit"
	"github.com/xraph/export/id"
)

// Record appends an audit entry to the job's list.
func (s *Store) Record(ctx context.Context, e *audit.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("export/redis: encode audit entry: %w", err)
	}
	if err := s.client.RPush(ctx, auditKey(e.TenantID, e.JobID.String()), data).Err(); err != nil {
		return fmt.Errorf("export/redis: record audit entry: %w", err)
	}
	return nil
}

// ListByJob returns the entries of a job in the order they were recorded.
func (s *Store) ListByJob(ctx context.Context, tenantID string, jobID id.ExportID) ([]*audit.Entry, error) {
	raw, err := s.client.LRange(ctx, auditKey(tenantID, jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("export/redis: list audit entries: %w", err)
	}

	entries := make([]*audit.Entry, 0, len(raw))
	for _, r := range raw {
		var e audit.Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("export/redis: decode audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}
