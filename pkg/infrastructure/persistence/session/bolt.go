// Package session provides the persistent session store backing the
// in-memory session manager.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const (
	sessionsBucket = "sessions"
)

// Stats summarizes the stored sessions.
type Stats struct {
	TotalSessions  int
	ActiveSessions int
}

// BoltStore persists sessions in a BoltDB file. The in-memory session
// manager stays the table of record; the store exists so live
// sessions survive a restart.
type BoltStore struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// NewBoltStore creates a new BoltDB-backed session store
func NewBoltStore(dbPath string, logger *slog.Logger) (*BoltStore, error) {
	// Ensure the parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.New(errors.CodeIoError, "persistence", fmt.Sprintf("failed to create directory %s", dir), err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// Check if error is due to database being locked by another process
		if strings.Contains(err.Error(), "resource temporarily unavailable") ||
			strings.Contains(err.Error(), "database is locked") ||
			strings.Contains(err.Error(), "timeout") {
			return nil, errors.New(errors.CodeIoError, "persistence",
				fmt.Sprintf("database file '%s' is already in use by another gateway instance. "+
					"Use MCP_GUARD_STORE_PATH environment variable to specify a different database file", dbPath), err)
		}
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to open bolt db", err)
	}

	// Create the sessions bucket
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.New(errors.CodeIoError, "persistence", "failed to create sessions bucket", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("session store opened", "path", dbPath)

	return &BoltStore{
		db:     db,
		logger: logger,
	}, nil
}

// Close closes the BoltDB connection
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create stores a new session
func (s *BoltStore) Create(ctx context.Context, sess security.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		// Check if session already exists
		if bucket.Get([]byte(sess.ID)) != nil {
			return errors.New(errors.CodeAlreadyExists, "persistence", fmt.Sprintf("session %s already exists", sess.ID), nil)
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return errors.New(errors.CodeInternalError, "persistence", "failed to marshal session", err)
		}

		if err := bucket.Put([]byte(sess.ID), data); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to store session", err)
		}

		return nil
	})
}

// Get retrieves a session by ID
func (s *BoltStore) Get(ctx context.Context, id string) (security.Session, error) {
	var sess security.Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		data := bucket.Get([]byte(id))

		if data == nil {
			return errors.New(errors.CodeNotFound, "persistence", fmt.Sprintf("session %s not found", id), nil)
		}

		return json.Unmarshal(data, &sess)
	})

	if err != nil {
		return security.Session{}, err
	}

	return sess, nil
}

// Update modifies an existing session
func (s *BoltStore) Update(ctx context.Context, sess security.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		// Check if session exists
		if bucket.Get([]byte(sess.ID)) == nil {
			return errors.New(errors.CodeNotFound, "persistence", fmt.Sprintf("session %s not found", sess.ID), nil)
		}

		data, err := json.Marshal(sess)
		if err != nil {
			return errors.New(errors.CodeInternalError, "persistence", "failed to marshal session", err)
		}

		if err := bucket.Put([]byte(sess.ID), data); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to update session", err)
		}

		return nil
	})
}

// Delete removes a session
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		if bucket.Get([]byte(id)) == nil {
			return errors.New(errors.CodeNotFound, "persistence", fmt.Sprintf("session %s not found", id), nil)
		}

		if err := bucket.Delete([]byte(id)); err != nil {
			return errors.New(errors.CodeIoError, "persistence", "failed to delete session", err)
		}

		return nil
	})
}

// List returns all stored sessions
func (s *BoltStore) List(ctx context.Context) ([]security.Session, error) {
	var sessions []security.Session

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		return bucket.ForEach(func(k, v []byte) error {
			var sess security.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil // Continue iteration
			}
			sessions = append(sessions, sess)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return sessions, nil
}

// ListByUser returns all stored sessions belonging to a user
func (s *BoltStore) ListByUser(ctx context.Context, userID string) ([]security.Session, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	var sessions []security.Session
	for _, sess := range all {
		if sess.UserID == userID {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// Exists checks if a session exists
func (s *BoltStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))
		exists = bucket.Get([]byte(id)) != nil
		return nil
	})

	return exists, err
}

// Cleanup removes sessions expired as of the given instant
func (s *BoltStore) Cleanup(ctx context.Context, now time.Time) (int, error) {
	var removedCount int

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		// Collect expired session IDs
		var expiredIDs []string

		err := bucket.ForEach(func(k, v []byte) error {
			var sess security.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil // Continue iteration
			}

			if sess.Expired(now) {
				expiredIDs = append(expiredIDs, sess.ID)
			}

			return nil
		})
		if err != nil {
			return err
		}

		// Delete expired sessions
		for _, id := range expiredIDs {
			if err := bucket.Delete([]byte(id)); err != nil {
				continue
			}
			removedCount++
		}

		return nil
	})

	if removedCount > 0 {
		s.logger.Debug("session store cleanup", "removed", removedCount)
	}

	return removedCount, err
}

// Stats returns storage statistics
func (s *BoltStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var activeSessions, totalSessions int

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(sessionsBucket))

		return bucket.ForEach(func(k, v []byte) error {
			totalSessions++

			var sess security.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return nil // Continue counting
			}

			if !sess.Expired(now) {
				activeSessions++
			}

			return nil
		})
	})

	if err != nil {
		return Stats{}, err
	}

	return Stats{
		ActiveSessions: activeSessions,
		TotalSessions:  totalSessions,
	}, nil
}
