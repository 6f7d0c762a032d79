package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
)

// EstimateSessionCount counts the matching sessions exactly. The duration
// is reported as unknown.
func (s *Store) EstimateSessionCount(ctx context.Context, tenantID string, filters *export.Filters) (analytics.Estimate, error) {
	matched, err := s.FetchSessions(ctx, tenantID, filters)
	if err != nil {
		return analytics.Estimate{}, err
	}
	return analytics.Estimate{Count: len(matched)}, nil
}

// FetchSessions returns the tenant's sessions that match filters, in start
// order. Sessions are filtered in process since a Hash cannot be queried.
func (s *Store) FetchSessions(ctx context.Context, tenantID string, filters *export.Filters) ([]analytics.RawSession, error) {
	vals, err := s.client.HVals(ctx, sessionsKey(tenantID)).Result()
	if err != nil {
		return nil, fmt.Errorf("export/redis: fetch sessions: %w", err)
	}

	raw := make([]analytics.RawSession, 0, len(vals))
	for _, v := range vals {
		var r analytics.RawSession
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("export/redis: decode session: %w", err)
		}
		raw = append(raw, r)
	}

	normalized := analytics.Normalize(raw)
	type match struct {
		raw     analytics.RawSession
		session analytics.Session
	}
	matched := make([]match, 0, len(raw))
	for i, sess := range normalized {
		if analytics.Matches(filters, sess) {
			matched = append(matched, match{raw: raw[i], session: sess})
		}
	}

	// Sessions without a start time sort last.
	sort.SliceStable(matched, func(i, k int) bool {
		a, b := matched[i].session, matched[k].session
		switch {
		case a.StartedAt == nil || b.StartedAt == nil:
			if (a.StartedAt == nil) != (b.StartedAt == nil) {
				return b.StartedAt == nil
			}
		case !a.StartedAt.Equal(*b.StartedAt):
			return a.StartedAt.Before(*b.StartedAt)
		}
		return a.SessionID < b.SessionID
	})

	result := make([]analytics.RawSession, len(matched))
	for i, m := range matched {
		result[i] = m.raw
	}
	return result, nil
}

// LoadSessions stores sessions for tenantID in one HSET, replacing any
// session with the same ID.
func (s *Store) LoadSessions(ctx context.Context, tenantID string, sessions []analytics.Session) (int, error) {
	if len(sessions) == 0 {
		return 0, nil
	}

	fields := make(map[string]any, len(sessions))
	for _, sess := range sessions {
		data, err := json.Marshal(sess)
		if err != nil {
			return 0, fmt.Errorf("export/redis: encode session %s: %w", sess.SessionID, err)
		}
		fields[sess.SessionID] = data
	}

	if err := s.client.HSet(ctx, sessionsKey(tenantID), fields).Err(); err != nil {
		return 0, fmt.Errorf("export/redis: load sessions: %w", err)
	}
	return len(sessions), nil
}
