// Package ratelimit provides a fixed-window request-frequency guard.
//
// Windows are keyed by (tenant, endpoint class, window start) and
// discarded once they age out; no cross-window state is retained. The
// limiter is deliberately decoupled from the usage ledger: it protects
// against short-burst abuse, the ledger protects period entitlement,
// and the two never share a cap value.
package ratelimit

import (
	"sync"
	"time"
)

// Endpoint classes with independent ceilings.
const (
	ClassAPI     = "api"
	ClassWebhook = "webhook"
)

// DefaultWindow is the default fixed-window length.
const DefaultWindow = time.Minute

type windowKey struct {
	tenantID    string
	class       string
	windowStart int64 // unix seconds
}

// Limiter counts requests per fixed window. Counts within a window
// never exceed what physically occurred; the zero ceiling means the
// class is not limited.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	counts map[windowKey]int
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow sets the fixed-window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the default one-minute window.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		window: DefaultWindow,
		counts: make(map[windowKey]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow counts one request for (tenantID, class) in the current window
// and reports whether it stays within limit. A limit <= 0 means the
// class is not rate limited and always allows without counting.
func (l *Limiter) Allow(tenantID, class string, limit int) bool {
	if limit <= 0 {
		return true
	}

	now := l.now()
	start := now.Truncate(l.window).Unix()
	key := windowKey{tenantID: tenantID, class: class, windowStart: start}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(start)

	if l.counts[key] >= limit {
		return false
	}
	l.counts[key]++
	return true
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }

// pruneLocked drops windows older than the current one. Retention is a
// single window back, enough for a reader mid-boundary.
func (l *Limiter) pruneLocked(currentStart int64) {
	horizon := currentStart - int64(l.window.Seconds())
	for key := range l.counts {
		if key.windowStart < horizon {
			delete(l.counts, key)
		}
	}
}
