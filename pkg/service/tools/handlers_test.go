package tools

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// fakeVault is a map-backed SecretStore for handler tests.
type fakeVault struct {
	entries map[string]string
}

func newFakeVault() *fakeVault {
	return &fakeVault{entries: make(map[string]string)}
}

func (v *fakeVault) Store(key, secret string) error {
	v.entries[key] = secret
	return nil
}

func (v *fakeVault) Retrieve(key string) (string, error) {
	secret, ok := v.entries[key]
	if !ok {
		return "", domainerrors.New(domainerrors.CodeSecretNotFound, "vault", "no secret stored under key "+key, nil)
	}
	return secret, nil
}

func (v *fakeVault) Delete(key string) (bool, error) {
	_, ok := v.entries[key]
	delete(v.entries, key)
	return ok, nil
}

func (v *fakeVault) Exists(key string) bool {
	_, ok := v.entries[key]
	return ok
}

func testSecurityContext(userID string, vault security.SecretStore) *security.SecurityContext {
	return &security.SecurityContext{
		Auth:  security.NewAuthContext(userID, "session-1", []string{"read", "write"}),
		Vault: vault,
	}
}

func testDeps() Dependencies {
	return Dependencies{
		Tasks:         NewTaskStore(),
		Logger:        slog.Default(),
		ServerName:    "guard-test",
		ServerVersion: "0.0.1",
		StartedAt:     time.Now().Add(-time.Minute),
		ActiveSessions: func() int {
			return 3
		},
	}
}

func TestTaskHandlersFlow(t *testing.T) {
	deps := testDeps()
	sec := testSecurityContext("alice", newFakeVault())
	ctx := context.Background()

	create := createTaskCreateHandler(deps)
	list := createTaskListHandler(deps)
	complete := createTaskCompleteHandler(deps)

	created, err := create(ctx, map[string]interface{}{"title": "write docs"}, sec)
	require.NoError(t, err)
	task, ok := created.(*Task)
	require.True(t, ok)
	assert.Equal(t, "alice", task.Owner)
	assert.Equal(t, "write docs", task.Title)

	listed, err := list(ctx, nil, sec)
	require.NoError(t, err)
	payload, ok := listed.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, payload["count"])

	completed, err := complete(ctx, map[string]interface{}{"id": task.ID}, sec)
	require.NoError(t, err)
	done, ok := completed.(*Task)
	require.True(t, ok)
	assert.True(t, done.Done)
}

func TestTaskCreateHandlerValidation(t *testing.T) {
	deps := testDeps()
	sec := testSecurityContext("alice", newFakeVault())
	handler := createTaskCreateHandler(deps)

	_, err := handler(context.Background(), map[string]interface{}{}, sec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameter: title")

	_, err = handler(context.Background(), map[string]interface{}{"title": 42}, sec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a string")
}

func TestCredentialHandlersUseUserScopedKeys(t *testing.T) {
	deps := testDeps()
	vault := newFakeVault()
	sec := testSecurityContext("alice", vault)
	ctx := context.Background()

	store := createCredentialStoreHandler(deps)
	get := createCredentialGetHandler(deps)

	result, err := store(ctx, map[string]interface{}{"service": "github", "secret": "tok_123"}, sec)
	require.NoError(t, err)
	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, payload["stored"])
	assert.NotContains(t, payload, "secret", "the secret is never echoed back")

	assert.Equal(t, "tok_123", vault.entries["alice:github"], "keys follow the user:service convention")

	fetched, err := get(ctx, map[string]interface{}{"service": "github"}, sec)
	require.NoError(t, err)
	got, ok := fetched.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tok_123", got["secret"])

	// A different caller cannot see alice's entry.
	other := testSecurityContext("bob", vault)
	_, err = get(ctx, map[string]interface{}{"service": "github"}, other)
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeSecretNotFound, domainerrors.CodeOf(err))
}

func TestPingHandler(t *testing.T) {
	handler := createPingHandler(testDeps())

	result, err := handler(context.Background(), nil, testSecurityContext("alice", newFakeVault()))
	require.NoError(t, err)

	payload, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "pong", payload["message"])
}

func TestServerStatusHandler(t *testing.T) {
	handler := createServerStatusHandler(testDeps())

	result, err := handler(context.Background(), nil, testSecurityContext("alice", newFakeVault()))
	require.NoError(t, err)

	status, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "guard-test", status["name"])
	assert.Equal(t, "0.0.1", status["version"])
	assert.Equal(t, 3, status["active_sessions"])
	assert.Equal(t, "alice", status["user"])
	assert.NotEmpty(t, status["uptime"])
}
