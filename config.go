package export

import "time"

// Config holds the tunables shared by the engine, artifact store, webhook
// dispatcher and queue adapters.
type Config struct {
	// SyncLimit is the largest estimated record count that is still
	// exported inline. Larger estimates go through the queue.
	SyncLimit int

	// SyncDuration is the largest estimated fetch duration that is still
	// exported inline. An unknown estimate does not force the async path.
	SyncDuration time.Duration

	// ETACap bounds the etaSeconds reported for queued jobs.
	ETACap time.Duration

	// ETAStep is the estimated time per SyncLimit-sized batch.
	ETAStep time.Duration

	// ArtifactTTL is how long a signed download URL stays valid.
	ArtifactTTL time.Duration

	// DownloadBaseURL prefixes every signed download URL.
	DownloadBaseURL string

	// WebhookMaxAttempts is the number of delivery attempts per dispatch.
	WebhookMaxAttempts int

	// WebhookBackoff is the base delay between webhook attempts; it
	// doubles after every failed attempt.
	WebhookBackoff time.Duration

	// WebhookTimeout bounds a single webhook HTTP request.
	WebhookTimeout time.Duration

	// QueueName names the delivery queue used by broker-backed adapters.
	QueueName string

	// ProcessTimeout bounds a single ProcessQueuedJob call made by the
	// worker runtime. Zero disables the deadline.
	ProcessTimeout time.Duration
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		SyncLimit:          10_000,
		SyncDuration:       5 * time.Second,
		ETACap:             300 * time.Second,
		ETAStep:            30 * time.Second,
		ArtifactTTL:        24 * time.Hour,
		DownloadBaseURL:    "https://exports.local/downloads",
		WebhookMaxAttempts: 3,
		WebhookBackoff:     750 * time.Millisecond,
		WebhookTimeout:     10 * time.Second,
		QueueName:          "exports",
	}
}
