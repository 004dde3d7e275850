// Package session manages server-side authenticated sessions. The
// in-memory table is the table of record; an optional persistent
// store lets live sessions survive a restart.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
	persistence "github.com/modelguard/mcp-guard/pkg/infrastructure/persistence/session"
)

const errorDomain = "session"

// Defaults applied when config fields are left zero.
const (
	DefaultExpiry          = time.Hour
	DefaultCleanupInterval = time.Minute
)

// Config holds the session manager settings.
type Config struct {
	// Expiry is the session lifetime, also used by Extend when no
	// explicit delta is given
	Expiry time.Duration
	// CleanupInterval is how often the background sweeper runs
	CleanupInterval time.Duration
	// Store optionally persists sessions across restarts. Store
	// failures are logged and never fail the in-memory operation.
	Store *persistence.BoltStore
}

// Manager owns the session table. Expired sessions are evicted lazily
// on access and by a periodic sweeper, so expiry is enforced even for
// sessions that are never touched again.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*security.Session

	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager and starts its sweeper. When a
// store is configured, sessions still live on disk are loaded back
// into the table.
func NewManager(cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*security.Session),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.restore()
	go m.sweepLoop()
	return m
}

// Create starts a new session for the user.
func (m *Manager) Create(ctx context.Context, userID string, metadata map[string]interface{}) (*security.Session, error) {
	if userID == "" {
		return nil, domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "user id must not be empty", nil)
	}

	now := m.now()
	sess := &security.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.Expiry),
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.Create(ctx, *sess); err != nil {
			m.logger.Warn("failed to persist session", "session_id", sess.ID, "error", err)
		}
	}

	copied := *sess
	return &copied, nil
}

// Verify checks that a session exists and is live. An expired session
// is evicted on the spot and reported as expired; later lookups of
// the same id report it as unknown.
func (m *Manager) Verify(ctx context.Context, sessionID string) (*security.Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok && sess.Expired(m.now()) {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.storeDelete(ctx, sessionID)
		return nil, domainerrors.New(domainerrors.CodeSessionExpired, errorDomain, "session has expired", nil)
	}
	if !ok {
		m.mu.Unlock()
		return nil, domainerrors.New(domainerrors.CodeSessionNotFound, errorDomain, "session not found", nil)
	}
	copied := *sess
	m.mu.Unlock()
	return &copied, nil
}

// Get returns a live session without treating the lookup as a
// verification step. Semantics match Verify.
func (m *Manager) Get(ctx context.Context, sessionID string) (*security.Session, error) {
	return m.Verify(ctx, sessionID)
}

// GetUserSessions returns the user's live sessions. Expired sessions
// encountered on the way are evicted.
func (m *Manager) GetUserSessions(ctx context.Context, userID string) []*security.Session {
	now := m.now()

	m.mu.Lock()
	var out []*security.Session
	var evicted []string
	for id, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, id)
			evicted = append(evicted, id)
			continue
		}
		if sess.UserID == userID {
			copied := *sess
			out = append(out, &copied)
		}
	}
	m.mu.Unlock()

	for _, id := range evicted {
		m.storeDelete(ctx, id)
	}
	return out
}

// Extend pushes a session's expiry further out. A non-positive delta
// extends by the configured session lifetime. Returns false when the
// session is unknown or already expired.
func (m *Manager) Extend(ctx context.Context, sessionID string, delta time.Duration) bool {
	if delta <= 0 {
		delta = m.cfg.Expiry
	}

	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok && sess.Expired(m.now()) {
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		m.storeDelete(ctx, sessionID)
		return false
	}
	if !ok {
		m.mu.Unlock()
		return false
	}
	sess.ExpiresAt = sess.ExpiresAt.Add(delta)
	copied := *sess
	m.mu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.Update(ctx, copied); err != nil {
			m.logger.Warn("failed to persist session extension", "session_id", sessionID, "error", err)
		}
	}
	return true
}

// Destroy removes a session. Returns false when no live session with
// that id exists, so destroying twice reports true then false.
func (m *Manager) Destroy(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	if ok {
		m.storeDelete(ctx, sessionID)
	}
	return ok
}

// DestroyUserSessions removes all live sessions of a user and returns
// how many were destroyed.
func (m *Manager) DestroyUserSessions(ctx context.Context, userID string) int {
	now := m.now()

	m.mu.Lock()
	var removed []string
	destroyed := 0
	for id, sess := range m.sessions {
		if sess.UserID != userID {
			continue
		}
		expired := sess.Expired(now)
		delete(m.sessions, id)
		removed = append(removed, id)
		if !expired {
			destroyed++
		}
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.storeDelete(ctx, id)
	}
	return destroyed
}

// CleanupExpired sweeps the table and removes every expired session,
// returning how many were removed.
func (m *Manager) CleanupExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var removed []string
	for id, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	for _, id := range removed {
		m.storeDelete(ctx, id)
	}
	if m.cfg.Store != nil {
		if _, err := m.cfg.Store.Cleanup(ctx, now); err != nil {
			m.logger.Warn("session store cleanup failed", "error", err)
		}
	}
	if len(removed) > 0 {
		m.logger.Debug("expired sessions removed", "count", len(removed))
	}
	return len(removed)
}

// ActiveSessionCount returns the number of live sessions.
func (m *Manager) ActiveSessionCount() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, sess := range m.sessions {
		if !sess.Expired(now) {
			count++
		}
	}
	return count
}

// Shutdown stops the sweeper and clears the table. Persisted sessions
// are left on disk for the next start.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})

	m.mu.Lock()
	m.sessions = make(map[string]*security.Session)
	m.mu.Unlock()
}

// restore loads live sessions from the store into the table.
func (m *Manager) restore() {
	if m.cfg.Store == nil {
		return
	}

	stored, err := m.cfg.Store.List(context.Background())
	if err != nil {
		m.logger.Warn("failed to load persisted sessions", "error", err)
		return
	}

	now := m.now()
	loaded := 0
	m.mu.Lock()
	for _, sess := range stored {
		if sess.Expired(now) {
			continue
		}
		copied := sess
		m.sessions[sess.ID] = &copied
		loaded++
	}
	m.mu.Unlock()

	if loaded > 0 {
		m.logger.Info("restored persisted sessions", "count", loaded)
	}
}

func (m *Manager) storeDelete(ctx context.Context, sessionID string) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.Delete(ctx, sessionID); err != nil && !domainerrors.HasCode(err, domainerrors.CodeNotFound) {
		m.logger.Warn("failed to delete persisted session", "session_id", sessionID, "error", err)
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupExpired(context.Background())
		case <-m.stop:
			return
		}
	}
}
