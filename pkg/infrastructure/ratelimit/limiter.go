// Package ratelimit implements a fixed-window request limiter keyed
// by caller identity.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Default quota applied when fields are left zero.
const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 100
)

// Quota bounds how many requests a key may make per window.
type Quota struct {
	// Window is the fixed window length
	Window time.Duration
	// MaxRequests is the number of requests allowed per window
	MaxRequests int
}

// Decision is the outcome of a limit check.
type Decision struct {
	// Allowed reports whether the request may proceed
	Allowed bool
	// Remaining is the number of requests left in the current window
	Remaining int
	// ResetAt is when the current window ends
	ResetAt time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter tracks request counts per key over fixed windows. A window
// starts on the first request for a key and ends after the configured
// duration; requests past the quota are denied until the window rolls
// over. Expired buckets self-heal on the next check, so the periodic
// sweeper only bounds memory for keys that go quiet.
type Limiter struct {
	mu      sync.Mutex
	quota   Quota
	buckets map[string]*bucket
	logger  *slog.Logger
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter and starts its background sweeper.
func New(quota Quota, logger *slog.Logger, opts ...Option) *Limiter {
	if quota.Window <= 0 {
		quota.Window = DefaultWindow
	}
	if quota.MaxRequests <= 0 {
		quota.MaxRequests = DefaultMaxRequests
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		quota:   quota,
		buckets: make(map[string]*bucket),
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.sweepLoop()
	return l
}

// CheckLimit records a request attempt for the key and decides whether
// it may proceed. The check and the count update happen atomically.
func (l *Limiter) CheckLimit(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(l.quota.Window)}
		l.buckets[key] = b
		return Decision{Allowed: true, Remaining: l.quota.MaxRequests - 1, ResetAt: b.resetAt}
	}

	if b.count >= l.quota.MaxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
	}

	b.count++
	return Decision{Allowed: true, Remaining: l.quota.MaxRequests - b.count, ResetAt: b.resetAt}
}

// Reset drops the bucket for a key, giving it a fresh window on the
// next request. Returns whether a bucket existed.
func (l *Limiter) Reset(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.buckets[key]
	delete(l.buckets, key)
	return ok
}

// Count returns the request count in the key's current window, or 0
// when the key is untracked or its window has expired.
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || !l.now().Before(b.resetAt) {
		return 0
	}
	return b.count
}

// TrackedKeys returns the number of keys with a bucket, including
// buckets the sweeper has not collected yet.
func (l *Limiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Clear drops all buckets.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets = make(map[string]*bucket)
}

// Destroy stops the background sweeper. The limiter remains usable;
// expired buckets still self-heal on access.
func (l *Limiter) Destroy() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *Limiter) sweepLoop() {
	ticker := time.NewTicker(l.quota.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.removeExpired(); removed > 0 {
				l.logger.Debug("rate limiter sweep", "removed", removed)
			}
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) removeExpired() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
