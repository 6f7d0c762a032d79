package webhook

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimit bounds outbound deliveries for one tenant.
type TenantLimit struct {
	// TenantID is the tenant identifier. Empty for the default limit.
	TenantID string

	// RateLimit is the sustained attempts per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the burst size. Defaults to 1 when RateLimit is set.
	RateBurst int

	// MaxConcurrency limits simultaneous attempts. Zero means unlimited.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limiter *rate.Limiter
	slots   chan struct{} // nil = unlimited
}

func newTenantState(cfg TenantLimit) *tenantState {
	ts := &tenantState{}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		ts.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return ts
}

// Limiter applies per-tenant rate and concurrency limits to webhook
// attempts. Tenants without their own limit share the default
// configuration but get independent buckets. Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	fallback TenantLimit
	limits   map[string]TenantLimit
	tenants  map[string]*tenantState
}

// NewLimiter creates a Limiter where every tenant is bounded by fallback
// unless configured otherwise.
func NewLimiter(fallback TenantLimit, limits ...TenantLimit) *Limiter {
	l := &Limiter{
		fallback: fallback,
		limits:   make(map[string]TenantLimit, len(limits)),
		tenants:  make(map[string]*tenantState),
	}
	for _, cfg := range limits {
		l.limits[cfg.TenantID] = cfg
	}
	return l
}

// SetTenantLimit replaces the limit of one tenant. In-flight attempts keep
// the slots they hold under the previous configuration.
func (l *Limiter) SetTenantLimit(cfg TenantLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[cfg.TenantID] = cfg
	delete(l.tenants, cfg.TenantID)
}

func (l *Limiter) state(tenantID string) *tenantState {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts, ok := l.tenants[tenantID]; ok {
		return ts
	}
	cfg, ok := l.limits[tenantID]
	if !ok {
		cfg = l.fallback
	}
	ts := newTenantState(cfg)
	l.tenants[tenantID] = ts
	return ts
}

// Acquire blocks until tenantID may make one attempt or ctx is done. The
// returned release function must be called when the attempt finishes.
func (l *Limiter) Acquire(ctx context.Context, tenantID string) (release func(), err error) {
	ts := l.state(tenantID)

	if ts.limiter != nil {
		if err := ts.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if ts.slots == nil {
		return func() {}, nil
	}

	select {
	case ts.slots <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ts.slots }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Active returns the number of attempts currently holding a slot for
// tenantID.
func (l *Limiter) Active(tenantID string) int {
	ts := l.state(tenantID)
	return len(ts.slots)
}
