package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/export"
	"github.com/xraph/export/id"
	"github.com/xraph/export/job"
)

// Create stores the job as a Hash and indexes it under its tenant.
func (s *Store) Create(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	fields, err := jobToMap(j)
	if err != nil {
		return err
	}

	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("export/redis: create check exists: %w", err)
		}
		if exists > 0 {
			return export.ErrJobAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.ZAdd(ctx, tenantJobsKey(j.TenantID), redis.Z{Score: 0, Member: jID})
			return nil
		})
		if err != nil {
			return fmt.Errorf("export/redis: create job: %w", err)
		}
		return nil
	}, key)
}

// Update applies patch under WATCH so that two workers moving the same job
// cannot interleave their read-modify-write.
func (s *Store) Update(ctx context.Context, jobID id.ExportID, tenantID string, patch job.Patch) (*job.Job, error) {
	key := jobKey(jobID.String())

	var updated *job.Job
	err := s.watch(ctx, func(tx *redis.Tx) error {
		j, err := getJob(ctx, tx, key, tenantID)
		if err != nil {
			return err
		}
		if err := patch.Apply(j, time.Now()); err != nil {
			return err
		}

		fields, err := jobToMap(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			return nil
		})
		if err != nil {
			return fmt.Errorf("export/redis: update job: %w", err)
		}
		updated = j
		return nil
	}, key)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// FindByID retrieves a job owned by tenantID.
func (s *Store) FindByID(ctx context.Context, tenantID string, jobID id.ExportID) (*job.Job, error) {
	return getJob(ctx, s.client, jobKey(jobID.String()), tenantID)
}

// ListByTenant returns the tenant's jobs, newest first. Without a status
// filter the page is cut by Redis; with one the index is filtered in
// process.
func (s *Store) ListByTenant(ctx context.Context, tenantID string, opts job.ListOpts) ([]*job.Job, error) {
	by := &redis.ZRangeBy{Min: "-", Max: "+"}
	if opts.Status == "" && (opts.Limit > 0 || opts.Offset > 0) {
		by.Offset = int64(opts.Offset)
		by.Count = -1
		if opts.Limit > 0 {
			by.Count = int64(opts.Limit)
		}
	}

	// Export IDs are time-ordered, so reverse lexical order is newest first.
	ids, err := s.client.ZRevRangeByLex(ctx, tenantJobsKey(tenantID), by).Result()
	if err != nil {
		return nil, fmt.Errorf("export/redis: list jobs: %w", err)
	}
	if len(ids) == 0 {
		return []*job.Job{}, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, jID := range ids {
			pipe.HGetAll(ctx, jobKey(jID))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals, cmdErr := cmd.(*redis.MapStringStringCmd).Result()
		if cmdErr != nil || len(vals) == 0 {
			continue // index entry without a hash
		}
		j, convErr := mapToJob(vals)
		if convErr != nil {
			return nil, convErr
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	if opts.Status == "" {
		return jobs, nil
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return []*job.Job{}, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// ── helpers ──

func getJob(ctx context.Context, c hashGetter, key, tenantID string) (*job.Job, error) {
	vals, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("export/redis: get job: %w", err)
	}
	if len(vals) == 0 || vals["tenant_id"] != tenantID {
		return nil, export.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) (map[string]any, error) {
	filters, err := json.Marshal(j.Filters)
	if err != nil {
		return nil, fmt.Errorf("export/redis: encode filters: %w", err)
	}

	// Every field is always written so a cleared value overwrites the
	// previous one.
	return map[string]any{
		"id":                       j.ID.String(),
		"tenant_id":                j.TenantID,
		"actor_id":                 j.ActorID,
		"status":                   string(j.Status),
		"format":                   string(j.Format),
		"filters":                  string(filters),
		"delivery_type":            string(j.DeliveryType),
		"delivery_target":          j.DeliveryTarget,
		"delivery_schedule":        j.DeliverySchedule,
		"delivery_status":          string(j.DeliveryStatus),
		"delivery_attempts":        strconv.Itoa(j.DeliveryAttempts),
		"delivery_last_attempt_at": formatTime(j.DeliveryLastAttemptAt),
		"estimated_count":          strconv.Itoa(j.EstimatedCount),
		"eta_seconds":              strconv.Itoa(j.ETASeconds),
		"record_count":             strconv.Itoa(j.RecordCount),
		"download_url":             j.DownloadURL,
		"artifact_path":            j.ArtifactPath,
		"expires_at":               formatTime(j.ExpiresAt),
		"failure_reason":           j.FailureReason,
		"completed_at":             formatTime(j.CompletedAt),
		"created_at":               j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":               j.UpdatedAt.Format(time.RFC3339Nano),
	}, nil
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseExportID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("export/redis: parse job id: %w", err)
	}

	j := &job.Job{
		ID:               jID,
		TenantID:         m["tenant_id"],
		ActorID:          m["actor_id"],
		Status:           job.Status(m["status"]),
		Format:           export.Format(m["format"]),
		DeliveryType:     export.DeliveryType(m["delivery_type"]),
		DeliveryTarget:   m["delivery_target"],
		DeliverySchedule: m["delivery_schedule"],
		DeliveryStatus:   job.DeliveryStatus(m["delivery_status"]),
		DownloadURL:      m["download_url"],
		ArtifactPath:     m["artifact_path"],
		FailureReason:    m["failure_reason"],

		DeliveryLastAttemptAt: parseTime(m["delivery_last_attempt_at"]),
		ExpiresAt:             parseTime(m["expires_at"]),
		CompletedAt:           parseTime(m["completed_at"]),
	}
	if err := json.Unmarshal([]byte(m["filters"]), &j.Filters); err != nil {
		return nil, fmt.Errorf("export/redis: decode filters of %s: %w", m["id"], err)
	}

	j.DeliveryAttempts, _ = strconv.Atoi(m["delivery_attempts"]) //nolint:errcheck // best-effort parse from trusted Redis data
	j.EstimatedCount, _ = strconv.Atoi(m["estimated_count"])     //nolint:errcheck // best-effort parse from trusted Redis data
	j.ETASeconds, _ = strconv.Atoi(m["eta_seconds"])             //nolint:errcheck // best-effort parse from trusted Redis data
	j.RecordCount, _ = strconv.Atoi(m["record_count"])           //nolint:errcheck // best-effort parse from trusted Redis data

	if t := parseTime(m["created_at"]); t != nil {
		j.CreatedAt = *t
	}
	if t := parseTime(m["updated_at"]); t != nil {
		j.UpdatedAt = *t
	}
	return j, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
