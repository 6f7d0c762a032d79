package analytics

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Field aliases accepted from raw records, in lookup order.
var (
	aliasSessionID   = []string{"sessionId", "session_id", "id"}
	aliasPlayerID    = []string{"playerId", "player_id"}
	aliasMode        = []string{"mode", "gameMode", "game_mode"}
	aliasWave        = []string{"waveReached", "wave_reached"}
	aliasDuration    = []string{"durationSeconds", "duration_seconds"}
	aliasScore       = []string{"totalScore", "total_score"}
	aliasResources   = []string{"resourcesCollected", "resources_collected"}
	aliasElement     = []string{"dominantElementUsed", "dominantElement", "dominant_element_used", "dominant_element"}
	aliasSkills      = []string{"skillsUsage", "skills_usage"}
	aliasDefeatCause = []string{"defeatCause", "defeat_cause"}
	aliasStartedAt   = []string{"startedAt", "started_at"}
	aliasEndedAt     = []string{"endedAt", "ended_at"}
)

// Normalize maps raw session records into Sessions. It accepts any slice
// whose elements are string-keyed maps; other elements are skipped. Input
// that is not a slice yields an empty, non-nil result.
func Normalize(raw any) []Session {
	switch v := raw.(type) {
	case []RawSession:
		out := make([]Session, 0, len(v))
		for _, r := range v {
			out = append(out, normalizeOne(r))
		}
		return out
	case []any:
		out := make([]Session, 0, len(v))
		for _, el := range v {
			if r, ok := el.(map[string]any); ok {
				out = append(out, normalizeOne(r))
			}
		}
		return out
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []Session{}
	}
	out := make([]Session, 0, rv.Len())
	for i := range rv.Len() {
		if r, ok := rv.Index(i).Interface().(map[string]any); ok {
			out = append(out, normalizeOne(r))
		}
	}
	return out
}

func normalizeOne(r RawSession) Session {
	return Session{
		SessionID:           asString(lookup(r, aliasSessionID)),
		PlayerID:            asString(lookup(r, aliasPlayerID)),
		Mode:                asString(lookup(r, aliasMode)),
		WaveReached:         int(asInt(lookup(r, aliasWave))),
		DurationSeconds:     asFloat(lookup(r, aliasDuration)),
		TotalScore:          asInt(lookup(r, aliasScore)),
		ResourcesCollected:  asInt(lookup(r, aliasResources)),
		DominantElementUsed: asString(lookup(r, aliasElement)),
		SkillsUsage:         asMap(lookup(r, aliasSkills)),
		DefeatCause:         asString(lookup(r, aliasDefeatCause)),
		StartedAt:           asTime(lookup(r, aliasStartedAt)),
		EndedAt:             asTime(lookup(r, aliasEndedAt)),
	}
}

// lookup returns the first non-nil value among keys.
func lookup(r RawSession, keys []string) any {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	return int64(asFloat(v))
}

func asMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	case map[string]int:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	default:
		return map[string]any{}
	}
}

func asTime(v any) *time.Time {
	var t time.Time
	switch x := v.(type) {
	case time.Time:
		t = x
	case *time.Time:
		if x == nil {
			return nil
		}
		t = *x
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}
