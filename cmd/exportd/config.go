package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/export"
	"github.com/xraph/export/blob/s3"
)

// settings is the resolved process configuration.
type settings struct {
	Log       logSettings
	Store     storeSettings
	RedisURL  string
	Queue     queueSettings
	Blob      blobSettings
	Signing   signingSettings
	Webhook   webhookSettings
	Scheduler schedulerSettings
	Engine    export.Config

	ShutdownTimeout time.Duration
}

type logSettings struct {
	Level  string
	Format string
}

type storeSettings struct {
	Driver       string
	DSN          string
	EstimateRate float64
	AutoMigrate  bool
}

type queueSettings struct {
	Driver string
	Codec  string
}

type blobSettings struct {
	Driver string
	Root   string
	S3     s3.Config
}

type signingSettings struct {
	Secret string
}

type webhookSettings struct {
	Secret         string
	Secrets        map[string]string
	Backoff        string
	BackoffMax     time.Duration
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

type schedulerSettings struct {
	Enabled      bool
	TickInterval time.Duration
	LockTTL      time.Duration
}

// Driver names.
const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverRedis    = "redis"
	driverLocal    = "local"
	driverS3       = "s3"
)

// newViper returns a viper instance with defaults and EXPORT_ env binding.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("EXPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := export.DefaultConfig()
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.driver", driverMemory)
	v.SetDefault("store.auto_migrate", true)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("queue.driver", driverMemory)
	v.SetDefault("queue.codec", "json")
	v.SetDefault("blob.driver", driverLocal)
	v.SetDefault("blob.root", "./artifacts")
	v.SetDefault("webhook.backoff", "exponential")
	v.SetDefault("webhook.backoff_max", 30*time.Second)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.lock_ttl", 30*time.Second)
	v.SetDefault("engine.sync_limit", d.SyncLimit)
	v.SetDefault("engine.sync_duration", d.SyncDuration)
	v.SetDefault("engine.eta_cap", d.ETACap)
	v.SetDefault("engine.eta_step", d.ETAStep)
	v.SetDefault("engine.artifact_ttl", d.ArtifactTTL)
	v.SetDefault("engine.download_base_url", d.DownloadBaseURL)
	v.SetDefault("engine.webhook_max_attempts", d.WebhookMaxAttempts)
	v.SetDefault("engine.webhook_backoff", d.WebhookBackoff)
	v.SetDefault("engine.webhook_timeout", d.WebhookTimeout)
	v.SetDefault("engine.queue_name", d.QueueName)
	v.SetDefault("engine.process_timeout", 5*time.Minute)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	return v
}

// readConfigFile loads path, or searches the default locations when path
// is empty. A missing default file is not an error.
func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("exportd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/exportd")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// loadSettings resolves settings from v.
func loadSettings(v *viper.Viper) (*settings, error) {
	s := &settings{
		Log: logSettings{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Store: storeSettings{
			Driver:       v.GetString("store.driver"),
			DSN:          v.GetString("store.dsn"),
			EstimateRate: v.GetFloat64("store.estimate_rate"),
			AutoMigrate:  v.GetBool("store.auto_migrate"),
		},
		RedisURL: v.GetString("redis.url"),
		Queue: queueSettings{
			Driver: v.GetString("queue.driver"),
			Codec:  v.GetString("queue.codec"),
		},
		Blob: blobSettings{
			Driver: v.GetString("blob.driver"),
			Root:   v.GetString("blob.root"),
			S3: s3.Config{
				Bucket:          v.GetString("blob.s3.bucket"),
				Region:          v.GetString("blob.s3.region"),
				Endpoint:        v.GetString("blob.s3.endpoint"),
				AccessKeyID:     v.GetString("blob.s3.access_key_id"),
				SecretAccessKey: v.GetString("blob.s3.secret_access_key"),
				Prefix:          v.GetString("blob.s3.prefix"),
			},
		},
		Signing: signingSettings{
			Secret: v.GetString("signing.secret"),
		},
		Webhook: webhookSettings{
			Secret:         v.GetString("webhook.secret"),
			Secrets:        v.GetStringMapString("webhook.secrets"),
			Backoff:        v.GetString("webhook.backoff"),
			BackoffMax:     v.GetDuration("webhook.backoff_max"),
			RateLimit:      v.GetFloat64("webhook.rate_limit"),
			RateBurst:      v.GetInt("webhook.rate_burst"),
			MaxConcurrency: v.GetInt("webhook.max_concurrency"),
		},
		Scheduler: schedulerSettings{
			Enabled:      v.GetBool("scheduler.enabled"),
			TickInterval: v.GetDuration("scheduler.tick_interval"),
			LockTTL:      v.GetDuration("scheduler.lock_ttl"),
		},
		Engine: export.Config{
			SyncLimit:          v.GetInt("engine.sync_limit"),
			SyncDuration:       v.GetDuration("engine.sync_duration"),
			ETACap:             v.GetDuration("engine.eta_cap"),
			ETAStep:            v.GetDuration("engine.eta_step"),
			ArtifactTTL:        v.GetDuration("engine.artifact_ttl"),
			DownloadBaseURL:    v.GetString("engine.download_base_url"),
			WebhookMaxAttempts: v.GetInt("engine.webhook_max_attempts"),
			WebhookBackoff:     v.GetDuration("engine.webhook_backoff"),
			WebhookTimeout:     v.GetDuration("engine.webhook_timeout"),
			QueueName:          v.GetString("engine.queue_name"),
			ProcessTimeout:     v.GetDuration("engine.process_timeout"),
		},
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if s.Signing.Secret == "" {
		return nil, export.NewValidationError("signing.secret", "required")
	}
	if s.Engine.SyncLimit < 1 {
		return nil, export.NewValidationError("engine.sync_limit", "must be positive")
	}
	return s, nil
}

// newLogger builds the process logger from the log settings.
func newLogger(w io.Writer, ls logSettings) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(ls.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(ls.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", ls.Format)
	}
}
