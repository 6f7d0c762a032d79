package export

import (
	"net/url"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Format is the rendering format of an export artifact.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatJSON
}

// DeliveryType selects how a finished artifact reaches the requester.
type DeliveryType string

const (
	// DeliveryImmediate returns the download link in the response only.
	DeliveryImmediate DeliveryType = "immediate"
	// DeliveryWebhook pushes the download link to a tenant URL.
	DeliveryWebhook DeliveryType = "webhook"
)

// Delivery describes where and when the artifact link is delivered.
type Delivery struct {
	Type       DeliveryType `json:"type" msgpack:"type"`
	WebhookURL string       `json:"webhookUrl,omitempty" msgpack:"webhook_url,omitempty"`
	// Schedule is an optional 5-field cron expression for recurring delivery.
	Schedule string `json:"schedule,omitempty" msgpack:"schedule,omitempty"`
}

// Scheduled reports whether the delivery is a recurring webhook.
func (d Delivery) Scheduled() bool {
	return d.Type == DeliveryWebhook && d.Schedule != ""
}

// Filters describes the session query behind an export. It is produced once
// by the request validation layer and treated as immutable afterwards.
type Filters struct {
	RangeStart       time.Time `json:"rangeStart" msgpack:"range_start"`
	RangeEnd         time.Time `json:"rangeEnd" msgpack:"range_end"`
	GameMode         string    `json:"gameMode,omitempty" msgpack:"game_mode,omitempty"`
	MinCompletedWave int       `json:"minCompletedWave" msgpack:"min_completed_wave"`
	Format           Format    `json:"format" msgpack:"format"`
	Delivery         Delivery  `json:"delivery" msgpack:"delivery"`
}

// scheduleParser accepts the standard 5-field cron syntax only.
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Validate checks the invariants the validation layer is expected to
// enforce before a Filters value reaches the engine.
func (f *Filters) Validate() error {
	if f == nil {
		return NewValidationError("filters", "required")
	}
	if f.RangeStart.IsZero() || f.RangeEnd.IsZero() {
		return NewValidationError("range", "rangeStart and rangeEnd are required")
	}
	if f.RangeStart.After(f.RangeEnd) {
		return NewValidationError("range", "rangeStart must not be after rangeEnd")
	}
	if f.MinCompletedWave < 0 {
		return NewValidationError("minCompletedWave", "must be non-negative")
	}
	if !f.Format.Valid() {
		return NewValidationError("format", "must be csv or json")
	}
	return f.Delivery.Validate()
}

// Validate checks the delivery block.
func (d Delivery) Validate() error {
	switch d.Type {
	case DeliveryImmediate:
		return nil
	case DeliveryWebhook:
		u, err := url.Parse(d.WebhookURL)
		if d.WebhookURL == "" || err != nil || u.Host == "" {
			return NewValidationError("delivery.webhookUrl", "a valid http(s) url is required")
		}
		if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
			return NewValidationError("delivery.webhookUrl", "scheme must be http or https")
		}
		if d.Schedule != "" {
			if _, err := scheduleParser.Parse(d.Schedule); err != nil {
				return NewValidationError("delivery.schedule", err.Error())
			}
		}
		return nil
	default:
		return NewValidationError("delivery.type", "must be immediate or webhook")
	}
}
