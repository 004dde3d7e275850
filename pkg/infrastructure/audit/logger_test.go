package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

type sinkFunc func(ctx context.Context, entry security.AuditEntry) error

func (f sinkFunc) Write(ctx context.Context, entry security.AuditEntry) error {
	return f(ctx, entry)
}

type collectingSink struct {
	mu      sync.Mutex
	entries []security.AuditEntry
}

func (s *collectingSink) Write(_ context.Context, entry security.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *collectingSink) collected() []security.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]security.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func TestLogger_AppendsInInsertionOrder(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 10}, slog.Default())

	log.Log(security.ActionToolCall, security.ResultSuccess, Details{UserID: "alice", Resource: "t1"})
	log.Log(security.ActionToolCall, security.ResultFailure, Details{UserID: "bob", Resource: "t2"})
	log.Log(security.ActionTokenIssued, security.ResultSuccess, Details{UserID: "alice"})

	entries := log.Recent(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "t1", entries[0].Resource)
	assert.Equal(t, "t2", entries[1].Resource)
	assert.Equal(t, security.ActionTokenIssued, entries[2].Action)
}

func TestLogger_EvictsOldestAtCapacity(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 3}, slog.Default())

	for i := 1; i <= 4; i++ {
		log.Log(security.ActionToolCall, security.ResultSuccess, Details{
			Resource: fmt.Sprintf("tool-%d", i),
		})
	}

	assert.Equal(t, 3, log.EntryCount())
	entries := log.Recent(10)
	require.Len(t, entries, 3)
	assert.Equal(t, "tool-2", entries[0].Resource)
	assert.Equal(t, "tool-3", entries[1].Resource)
	assert.Equal(t, "tool-4", entries[2].Resource)
}

func TestLogger_RecentReturnsLastN(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 10}, slog.Default())
	for i := 1; i <= 5; i++ {
		log.Log(security.ActionToolCall, security.ResultSuccess, Details{
			Resource: fmt.Sprintf("tool-%d", i),
		})
	}

	entries := log.Recent(2)
	require.Len(t, entries, 2)
	assert.Equal(t, "tool-4", entries[0].Resource)
	assert.Equal(t, "tool-5", entries[1].Resource)
}

func TestLogger_Queries(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 10}, slog.Default())

	log.Log(security.ActionTokenIssued, security.ResultSuccess, Details{UserID: "alice"})
	log.Log(security.ActionToolCall, security.ResultFailure, Details{UserID: "bob"})
	log.Log(security.ActionToolCall, security.ResultSuccess, Details{UserID: "alice"})
	log.Log(security.ActionToolCall, security.ResultError, Details{UserID: "alice"})

	byUser := log.ByUser("alice", 10)
	require.Len(t, byUser, 3)
	assert.Equal(t, security.ActionTokenIssued, byUser[0].Action)

	byAction := log.ByAction(security.ActionToolCall, 10)
	require.Len(t, byAction, 3)
	assert.Equal(t, "bob", byAction[0].UserID)

	failed := log.Failed(10)
	require.Len(t, failed, 2)
	assert.Equal(t, security.ResultFailure, failed[0].Result)
	assert.Equal(t, security.ResultError, failed[1].Result)
}

func TestLogger_ClearAndExport(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 10}, slog.Default())
	log.Log(security.ActionToolCall, security.ResultSuccess, Details{Resource: "t"})

	exported := log.Export()
	require.Len(t, exported, 1)

	// Export is a copy; mutating it must not touch the trail.
	exported[0].Resource = "mutated"
	assert.Equal(t, "t", log.Recent(1)[0].Resource)

	log.Clear()
	assert.Equal(t, 0, log.EntryCount())
	assert.Empty(t, log.Recent(10))
}

func TestLogger_ConvenienceActions(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 10}, slog.Default())

	log.AuthSuccess("alice", "sess-1")
	log.AuthFailure("bad signature")
	log.AuthorizationCheck("tool-x", true, Details{UserID: "alice"})
	log.AuthorizationCheck("tool-x", false, Details{UserID: "bob"})
	log.RateLimitExceeded("bob")

	entries := log.Recent(10)
	require.Len(t, entries, 5)
	assert.Equal(t, security.ActionTokenVerified, entries[0].Action)
	assert.Equal(t, "sess-1", entries[0].SessionID)
	assert.Equal(t, security.ActionTokenInvalid, entries[1].Action)
	assert.Equal(t, "bad signature", entries[1].Metadata["reason"])
	assert.Equal(t, security.ActionAuthorizationSucceeded, entries[2].Action)
	assert.Equal(t, security.ActionAuthorizationFailed, entries[3].Action)
	assert.Equal(t, security.ResultFailure, entries[3].Result)
	assert.Equal(t, security.ActionRateLimitExceeded, entries[4].Action)
	assert.Equal(t, "bob", entries[4].UserID)
}

func TestLogger_SinkReceivesEntries(t *testing.T) {
	sink := &collectingSink{}
	log := NewLogger(Config{MaxEntries: 10, Sink: sink}, slog.Default())

	log.Log(security.ActionToolCall, security.ResultSuccess, Details{Resource: "t1"})
	log.Log(security.ActionToolCall, security.ResultSuccess, Details{Resource: "t2"})

	collected := sink.collected()
	require.Len(t, collected, 2)
	assert.Equal(t, "t1", collected[0].Resource)
}

func TestLogger_SinkErrorsAreSwallowed(t *testing.T) {
	sink := sinkFunc(func(context.Context, security.AuditEntry) error {
		return fmt.Errorf("disk full")
	})
	log := NewLogger(Config{MaxEntries: 10, Sink: sink}, slog.Default())

	assert.NotPanics(t, func() {
		log.Log(security.ActionToolCall, security.ResultSuccess, Details{})
	})
	assert.Equal(t, 1, log.EntryCount())
}

func TestLogger_SinkRunsOutsideLock(t *testing.T) {
	var log *Logger
	var observed int
	sink := sinkFunc(func(context.Context, security.AuditEntry) error {
		// Reading the trail from inside the sink only works when the
		// sink is invoked after the internal lock is released.
		observed = log.EntryCount()
		return nil
	})
	log = NewLogger(Config{MaxEntries: 10, Sink: sink}, slog.Default())

	log.Log(security.ActionToolCall, security.ResultSuccess, Details{})
	assert.Equal(t, 1, observed)
}

func TestLogger_ClockInjection(t *testing.T) {
	frozen := time.Date(2025, 3, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	log := NewLogger(Config{MaxEntries: 10}, slog.Default(), WithClock(func() time.Time { return frozen }))

	log.Log(security.ActionToolCall, security.ResultSuccess, Details{})

	entry := log.Recent(1)[0]
	assert.Equal(t, frozen.UTC(), entry.Timestamp)
	assert.Equal(t, time.UTC, entry.Timestamp.Location())
}

func TestLogger_ConcurrentWriters(t *testing.T) {
	log := NewLogger(Config{MaxEntries: 50}, slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				log.Log(security.ActionToolCall, security.ResultSuccess, Details{
					UserID: fmt.Sprintf("user-%d", n),
				})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, log.EntryCount())
}
