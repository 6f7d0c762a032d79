package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
)

// sessionColumns are returned under the snake_case names that
// analytics.Normalize accepts.
const sessionColumns = `
	session_id, player_id, mode, wave_reached, duration_seconds,
	total_score, resources_collected, dominant_element_used,
	skills_usage, defeat_cause, started_at, ended_at`

// sessionWhere builds the filter clause shared by the count and fetch
// queries.
func sessionWhere(tenantID string, f *export.Filters) (string, []any) {
	clauses := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if f == nil {
		return strings.Join(clauses, " AND "), args
	}

	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.RangeStart.IsZero() {
		add("(started_at IS NULL OR started_at >= $%d)", f.RangeStart)
	}
	if !f.RangeEnd.IsZero() {
		add("(started_at IS NULL OR started_at <= $%d)", f.RangeEnd)
	}
	if f.GameMode != "" {
		add("mode = $%d", f.GameMode)
	}
	if f.MinCompletedWave > 0 {
		add("wave_reached >= $%d", f.MinCompletedWave)
	}
	return strings.Join(clauses, " AND "), args
}

// EstimateSessionCount counts the matching sessions. The duration is
// derived from the configured estimate rate, or left unknown.
func (s *Store) EstimateSessionCount(ctx context.Context, tenantID string, filters *export.Filters) (analytics.Estimate, error) {
	where, args := sessionWhere(tenantID, filters)

	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM game_sessions WHERE `+where, args...).Scan(&count)
	if err != nil {
		return analytics.Estimate{}, fmt.Errorf("export/postgres: count sessions: %w", err)
	}

	est := analytics.Estimate{Count: count}
	if s.estimateRate > 0 {
		est.EstimatedDuration = time.Duration(float64(count) / s.estimateRate * float64(time.Second))
	}
	return est, nil
}

// FetchSessions returns every session of tenantID matching filters, in
// start order.
func (s *Store) FetchSessions(ctx context.Context, tenantID string, filters *export.Filters) ([]analytics.RawSession, error) {
	where, args := sessionWhere(tenantID, filters)

	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE `+where+`
		ORDER BY started_at ASC NULLS LAST, session_id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: fetch sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("export/postgres: collect sessions: %w", err)
	}
	return sessions, nil
}

// LoadSessions bulk-upserts sessions for tenantID.
func (s *Store) LoadSessions(ctx context.Context, tenantID string, sessions []analytics.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, sess := range sessions {
		skills, err := json.Marshal(sess.SkillsUsage)
		if err != nil {
			return 0, fmt.Errorf("export/postgres: encode skills of %s: %w", sess.SessionID, err)
		}
		if sess.SkillsUsage == nil {
			skills = []byte("{}")
		}
		batch.Queue(`
			INSERT INTO game_sessions (
				tenant_id, `+sessionColumns+`
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (tenant_id, session_id) DO UPDATE SET
				player_id = EXCLUDED.player_id,
				mode = EXCLUDED.mode,
				wave_reached = EXCLUDED.wave_reached,
				duration_seconds = EXCLUDED.duration_seconds,
				total_score = EXCLUDED.total_score,
				resources_collected = EXCLUDED.resources_collected,
				dominant_element_used = EXCLUDED.dominant_element_used,
				skills_usage = EXCLUDED.skills_usage,
				defeat_cause = EXCLUDED.defeat_cause,
				started_at = EXCLUDED.started_at,
				ended_at = EXCLUDED.ended_at`,
			tenantID, sess.SessionID, sess.PlayerID, sess.Mode, sess.WaveReached, sess.DurationSeconds,
			sess.TotalScore, sess.ResourcesCollected, sess.DominantElementUsed,
			skills, sess.DefeatCause, sess.StartedAt, sess.EndedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range sessions {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("export/postgres: load sessions: %w", err)
		}
	}
	return len(sessions), nil
}
