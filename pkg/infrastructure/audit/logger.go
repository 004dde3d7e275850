// Package audit records security-relevant events in a bounded
// in-memory trail and ships them to optional external sinks.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// DefaultMaxEntries bounds the in-memory trail when no limit is
// configured.
const DefaultMaxEntries = 10000

// Sink receives every audit entry as it is logged. Sink failures are
// reported to the diagnostic logger and never reach the caller.
type Sink interface {
	Write(ctx context.Context, entry security.AuditEntry) error
}

// Config holds the audit logger settings.
type Config struct {
	// MaxEntries bounds the in-memory trail; oldest entries are
	// dropped once the bound is reached
	MaxEntries int
	// Sink optionally receives every entry for external persistence
	Sink Sink
}

// Details carries the optional fields of an audit entry.
type Details struct {
	UserID    string
	SessionID string
	Resource  string
	Metadata  map[string]interface{}
}

// Logger keeps a bounded, insertion-ordered audit trail. All methods
// are safe for concurrent use. The configured sink is invoked outside
// the internal lock so a slow sink never blocks other writers.
type Logger struct {
	mu      sync.RWMutex
	entries []security.AuditEntry
	max     int
	sink    Sink
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// NewLogger creates an audit logger.
func NewLogger(cfg Config, logger *slog.Logger, opts ...Option) *Logger {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		entries: make([]security.AuditEntry, 0, cfg.MaxEntries),
		max:     cfg.MaxEntries,
		sink:    cfg.Sink,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends an entry to the trail, evicting the oldest entry when
// the trail is full, and forwards it to the sink if one is configured.
func (l *Logger) Log(action string, result security.AuditResult, details Details) {
	entry := security.AuditEntry{
		Timestamp: l.now().UTC(),
		Action:    action,
		Result:    result,
		UserID:    details.UserID,
		SessionID: details.SessionID,
		Resource:  details.Resource,
		Metadata:  details.Metadata,
	}

	l.mu.Lock()
	if len(l.entries) >= l.max {
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		if err := sink.Write(context.Background(), entry); err != nil {
			l.logger.Warn("audit sink write failed", "action", action, "error", err)
		}
	}
}

// AuthSuccess records a successful token verification.
func (l *Logger) AuthSuccess(userID, sessionID string) {
	l.Log(security.ActionTokenVerified, security.ResultSuccess, Details{
		UserID:    userID,
		SessionID: sessionID,
	})
}

// AuthFailure records a rejected authentication attempt.
func (l *Logger) AuthFailure(reason string) {
	l.Log(security.ActionTokenInvalid, security.ResultFailure, Details{
		Metadata: map[string]interface{}{"reason": reason},
	})
}

// AuthorizationCheck records the outcome of an authorization decision
// for a resource.
func (l *Logger) AuthorizationCheck(resource string, allowed bool, details Details) {
	details.Resource = resource
	action := security.ActionAuthorizationSucceeded
	result := security.ResultSuccess
	if !allowed {
		action = security.ActionAuthorizationFailed
		result = security.ResultFailure
	}
	l.Log(action, result, details)
}

// RateLimitExceeded records a request rejected by the rate limiter.
func (l *Logger) RateLimitExceeded(key string) {
	l.Log(security.ActionRateLimitExceeded, security.ResultFailure, Details{
		UserID: key,
	})
}

// Recent returns the last n entries in insertion order. A non-positive
// n returns the whole trail.
func (l *Logger) Recent(n int) []security.AuditEntry {
	return l.filtered(func(security.AuditEntry) bool { return true }, n)
}

// ByUser returns the last n entries recorded for the given user, in
// insertion order.
func (l *Logger) ByUser(userID string, n int) []security.AuditEntry {
	return l.filtered(func(e security.AuditEntry) bool { return e.UserID == userID }, n)
}

// ByAction returns the last n entries with the given action, in
// insertion order.
func (l *Logger) ByAction(action string, n int) []security.AuditEntry {
	return l.filtered(func(e security.AuditEntry) bool { return e.Action == action }, n)
}

// Failed returns the last n entries whose result was not success, in
// insertion order.
func (l *Logger) Failed(n int) []security.AuditEntry {
	return l.filtered(func(e security.AuditEntry) bool { return e.Result != security.ResultSuccess }, n)
}

// EntryCount returns the number of entries currently retained.
func (l *Logger) EntryCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops all retained entries.
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// Export returns a copy of the whole trail in insertion order.
func (l *Logger) Export() []security.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]security.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Logger) filtered(match func(security.AuditEntry) bool, n int) []security.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]security.AuditEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if match(e) {
			out = append(out, e)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
