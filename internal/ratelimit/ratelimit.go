// Package ratelimit implements the per-agent token bucket used for proxy
// admission: 5 requests per 60s by default, refilled lazily on
// access, guarded by a per-agent lock (x/time/rate's own internal lock).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultLimit is the default request budget per DefaultWindow.
const DefaultLimit = 5

// DefaultWindow is the default refill window for DefaultLimit.
const DefaultWindow = 60 * time.Second

// Config tunes a Limiter's per-agent bucket.
type Config struct {
	Limit  int           // requests per Window, default 5
	Window time.Duration // default 60s
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// Limiter tracks one token bucket per agent ID, created lazily on first
// use and never evicted (agent registry entries are long-lived, so bucket
// count is bounded by the agent count).
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg.withDefaults(), buckets: make(map[string]*rate.Limiter)}
}

func (l *Limiter) bucketFor(agentID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[agentID]
	if !ok {
		ratePerSec := rate.Limit(float64(l.cfg.Limit) / l.cfg.Window.Seconds())
		b = rate.NewLimiter(ratePerSec, l.cfg.Limit)
		l.buckets[agentID] = b
	}
	return b
}

// Allow reports whether agentID may proceed right now, consuming one token
// if so. When it returns false, retryAfter estimates the wait before the
// next token is available, surfaced to callers as the retry_after
// seconds on a 429.
func (l *Limiter) Allow(agentID string) (allowed bool, retryAfter time.Duration) {
	b := l.bucketFor(agentID)
	now := time.Now()
	res := b.ReserveN(now, 1)
	if !res.OK() {
		return false, l.cfg.Window
	}
	delay := res.DelayFrom(now)
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// Reset clears agentID's bucket, restoring its full burst (used by
// agent-registry tests or an admin reset endpoint).
func (l *Limiter) Reset(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, agentID)
}
