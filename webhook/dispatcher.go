package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/export/backoff"
	"github.com/xraph/export/id"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
)

// Request describes one webhook push.
type Request struct {
	TenantID string
	JobID    id.ExportID
	URL      string
	Payload  any
}

// Result reports the outcome of a dispatch. Error is empty on success.
type Result struct {
	Success       bool
	Attempts      int
	StatusCode    int
	DeliveryID    id.DeliveryID
	LastAttemptAt time.Time
	Error         string
}

// Dispatcher signs and POSTs webhook payloads with bounded retries.
type Dispatcher struct {
	secrets     SecretProvider
	client      *http.Client
	maxAttempts int
	backoff     backoff.Strategy
	limiter     *Limiter
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxAttempts sets the number of attempts per dispatch. Values below 1
// are ignored.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(d *Dispatcher) {
		if s != nil {
			d.backoff = s
		}
	}
}

// WithHTTPClient sets the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.client = c
		}
	}
}

// WithTimeout bounds every single HTTP attempt.
func WithTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			c := *d.client
			c.Timeout = t
			d.client = &c
		}
	}
}

// WithLimiter applies per-tenant rate limiting to attempts.
func WithLimiter(l *Limiter) Option {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithClock overrides the time source used for signing timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// NewDispatcher creates a Dispatcher that signs with secrets from sp.
func NewDispatcher(sp SecretProvider, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		secrets:     sp,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		backoff:     backoff.DefaultStrategy(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// MaxAttempts returns the configured attempt budget.
func (d *Dispatcher) MaxAttempts() int { return d.maxAttempts }

// Dispatch delivers req.Payload to req.URL. It never returns an error for
// a failed delivery; the outcome is described by the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	res := Result{DeliveryID: id.NewDeliveryID()}
	log := d.logger.With(
		slog.String("tenant_id", req.TenantID),
		slog.String("job_id", req.JobID.String()),
		slog.String("delivery_id", res.DeliveryID.String()),
	)

	body, err := json.Marshal(req.Payload)
	if err != nil {
		res.Error = fmt.Sprintf("marshal payload: %v", err)
		log.Error("webhook payload encoding failed", slog.String("error", err.Error()))
		return res
	}

	if d.secrets == nil {
		res.Error = "no secret provider configured"
		log.Error("webhook dispatch skipped", slog.String("error", res.Error))
		return res
	}
	secret, err := d.secrets.Secret(ctx, req.TenantID)
	if err != nil {
		res.Error = fmt.Sprintf("resolve secret: %v", err)
		log.Error("webhook secret lookup failed", slog.String("error", err.Error()))
		return res
	}

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		status, err := d.attempt(ctx, req, res.DeliveryID, secret, body)
		res.Attempts = attempt
		res.LastAttemptAt = d.now().UTC()
		res.StatusCode = status

		if err == nil {
			res.Success = true
			res.Error = ""
			log.Info("webhook delivered",
				slog.Int("attempt", attempt),
				slog.Int("status", status),
			)
			return res
		}

		res.Error = err.Error()
		log.Warn("webhook attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", d.maxAttempts),
			slog.String("error", res.Error),
		)

		if attempt == d.maxAttempts {
			break
		}
		if err := backoff.Sleep(ctx, d.backoff.Delay(attempt)); err != nil {
			res.Error = fmt.Sprintf("%s (retry aborted: %v)", res.Error, err)
			break
		}
	}

	log.Error("webhook delivery failed",
		slog.Int("attempts", res.Attempts),
		slog.String("error", res.Error),
	)
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, req Request, deliveryID id.DeliveryID, secret, body []byte) (int, error) {
	if d.limiter != nil {
		release, err := d.limiter.Acquire(ctx, req.TenantID)
		if err != nil {
			return 0, fmt.Errorf("rate limit: %w", err)
		}
		defer release()
	}

	ts := strconv.FormatInt(d.now().Unix(), 10)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderTimestamp, ts)
	httpReq.Header.Set(HeaderSignature, Sign(secret, ts, body))
	httpReq.Header.Set(HeaderTenant, req.TenantID)
	httpReq.Header.Set(HeaderJob, req.JobID.String())
	httpReq.Header.Set(HeaderDelivery, deliveryID.String())

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
