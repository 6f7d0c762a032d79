// Package analytics defines the gameplay-session query collaborator used by
// the export engine and the normalization of raw session records into the
// stable shape every export format renders.
package analytics

import (
	"context"
	"time"

	"github.com/xraph/export"
)

// Estimate is a size and duration estimate for a filtered session set.
type Estimate struct {
	// Count is the estimated number of sessions.
	Count int `json:"count"`

	// EstimatedDuration is the expected fetch time. Zero means unknown.
	EstimatedDuration time.Duration `json:"estimatedDuration,omitempty"`
}

// RawSession is a session record as returned by the analytics backend.
// Field names vary between producers; [Normalize] reconciles them.
type RawSession = map[string]any

// Repository is the analytics query service consumed by the engine.
type Repository interface {
	// EstimateSessionCount estimates the size of the filtered set.
	EstimateSessionCount(ctx context.Context, tenantID string, filters *export.Filters) (Estimate, error)

	// FetchSessions returns every session of tenantID matching filters.
	FetchSessions(ctx context.Context, tenantID string, filters *export.Filters) ([]RawSession, error)
}

// Loader bulk-loads sessions into a backend. Loading a session whose ID
// already exists for the tenant replaces it.
type Loader interface {
	LoadSessions(ctx context.Context, tenantID string, sessions []Session) (int, error)
}

// Session is the normalized, format-independent shape of one session.
type Session struct {
	SessionID           string         `json:"sessionId"`
	PlayerID            string         `json:"playerId"`
	Mode                string         `json:"mode"`
	WaveReached         int            `json:"waveReached"`
	DurationSeconds     float64        `json:"durationSeconds"`
	TotalScore          int64          `json:"totalScore"`
	ResourcesCollected  int64          `json:"resourcesCollected"`
	DominantElementUsed string         `json:"dominantElementUsed"`
	SkillsUsage         map[string]any `json:"skillsUsage"`
	DefeatCause         string         `json:"defeatCause"`
	StartedAt           *time.Time     `json:"startedAt"`
	EndedAt             *time.Time     `json:"endedAt"`
}

// Matches reports whether s satisfies filters. Backends that cannot push
// the filter down to storage use it to filter in process.
func Matches(filters *export.Filters, s Session) bool {
	if filters == nil {
		return true
	}
	if s.StartedAt != nil {
		if s.StartedAt.Before(filters.RangeStart) || s.StartedAt.After(filters.RangeEnd) {
			return false
		}
	}
	if filters.GameMode != "" && s.Mode != filters.GameMode {
		return false
	}
	return s.WaveReached >= filters.MinCompletedWave
}
