package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const errorDomain = "audit"

// FileSink appends entries to a file as one JSON document per line.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

var _ Sink = (*FileSink)(nil)

// NewFileSink opens (or creates) the log file in append mode.
func NewFileSink(path string) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to create audit log directory", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to open audit log file", err)
	}
	return &FileSink{file: file, path: path}, nil
}

// Write implements Sink.
func (s *FileSink) Write(_ context.Context, entry security.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return domainerrors.New(domainerrors.CodeInternalError, errorDomain, "failed to marshal audit entry", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to append audit entry", err)
	}
	return nil
}

// Path returns the log file path.
func (s *FileSink) Path() string {
	return s.path
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// BoltSink persists entries in a bbolt database, one bucket per UTC
// day, keyed by a monotonic sequence so iteration preserves insertion
// order.
type BoltSink struct {
	db *bbolt.DB
}

var _ Sink = (*BoltSink)(nil)

// NewBoltSink opens (or creates) the audit database at the given path.
func NewBoltSink(path string) (*BoltSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to create audit database directory", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to open audit database", err)
	}
	return &BoltSink{db: db}, nil
}

// Write implements Sink.
func (s *BoltSink) Write(_ context.Context, entry security.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return domainerrors.New(domainerrors.CodeInternalError, errorDomain, "failed to marshal audit entry", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(dayBucket(entry.Timestamp))
		if err != nil {
			return domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to create audit bucket", err)
		}
		seq, err := bucket.NextSequence()
		if err != nil {
			return domainerrors.New(domainerrors.CodeIoError, errorDomain, "failed to allocate audit sequence", err)
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bucket.Put(key, data)
	})
}

// EntriesForDay returns all entries persisted for the given UTC day in
// insertion order.
func (s *BoltSink) EntriesForDay(day time.Time) ([]security.AuditEntry, error) {
	var entries []security.AuditEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(dayBucket(day))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(_, value []byte) error {
			var entry security.AuditEntry
			if err := json.Unmarshal(value, &entry); err != nil {
				return domainerrors.New(domainerrors.CodeInternalError, errorDomain, "failed to decode audit entry", err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

func dayBucket(at time.Time) []byte {
	return []byte("audit-" + at.UTC().Format("2006-01-02"))
}
