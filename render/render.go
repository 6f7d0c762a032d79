// Package render turns normalized sessions into export payloads.
//
// Two formats are supported: CSV with a fixed header row, and a JSON array
// of session objects. Both carry every session field, including sessionId.
package render

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xraph/export"
	"github.com/xraph/export/analytics"
)

// Header is the CSV column order.
var Header = []string{
	"sessionId",
	"playerId",
	"mode",
	"waveReached",
	"durationSeconds",
	"totalScore",
	"resourcesCollected",
	"dominantElementUsed",
	"skillsUsage",
	"defeatCause",
	"startedAt",
	"endedAt",
}

// Render encodes sessions in format. An unsupported format yields an
// *export.ValidationError matching export.ErrUnsupportedFormat.
func Render(format export.Format, sessions []analytics.Session) ([]byte, error) {
	switch format {
	case export.FormatCSV:
		return CSV(sessions)
	case export.FormatJSON:
		return JSON(sessions)
	default:
		return nil, &export.ValidationError{
			Field:  "format",
			Reason: fmt.Sprintf("unsupported format %q", format),
			Err:    export.ErrUnsupportedFormat,
		}
	}
}

// ContentType returns the MIME type of format.
func ContentType(format export.Format) string {
	switch format {
	case export.FormatCSV:
		return "text/csv; charset=utf-8"
	case export.FormatJSON:
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// CSV renders sessions with a header row.
func CSV(sessions []analytics.Session) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("render: write csv header: %w", err)
	}

	for i := range sessions {
		row, err := csvRow(&sessions[i])
		if err != nil {
			return nil, err
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("render: write csv row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render: flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func csvRow(s *analytics.Session) ([]string, error) {
	skills := "{}"
	if len(s.SkillsUsage) > 0 {
		b, err := json.Marshal(s.SkillsUsage)
		if err != nil {
			return nil, fmt.Errorf("render: encode skills of %s: %w", s.SessionID, err)
		}
		skills = string(b)
	}

	return []string{
		s.SessionID,
		s.PlayerID,
		s.Mode,
		strconv.Itoa(s.WaveReached),
		strconv.FormatFloat(s.DurationSeconds, 'f', -1, 64),
		strconv.FormatInt(s.TotalScore, 10),
		strconv.FormatInt(s.ResourcesCollected, 10),
		s.DominantElementUsed,
		skills,
		s.DefeatCause,
		formatTime(s.StartedAt),
		formatTime(s.EndedAt),
	}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// JSON renders sessions as an indented JSON array. An empty input renders
// as "[]".
func JSON(sessions []analytics.Session) ([]byte, error) {
	if sessions == nil {
		sessions = []analytics.Session{}
	}
	b, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: encode json: %w", err)
	}
	return b, nil
}
