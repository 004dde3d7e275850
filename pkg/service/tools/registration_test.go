package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

type fakeRegistry struct {
	defs map[string]*security.ToolDefinition
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{defs: make(map[string]*security.ToolDefinition)}
}

func (r *fakeRegistry) RegisterTool(def *security.ToolDefinition) error {
	r.defs[def.Name] = def
	return nil
}

func TestRegisterAllRegistersEveryTool(t *testing.T) {
	registry := newFakeRegistry()

	require.NoError(t, RegisterAll(registry, testDeps()))
	require.Len(t, registry.defs, len(Configs()))

	for _, name := range []string{"task_create", "task_list", "task_complete", "credential_store", "credential_get", "ping", "server_status"} {
		def, ok := registry.defs[name]
		require.True(t, ok, "tool %s should be registered", name)
		assert.NotNil(t, def.Handler)
		assert.NotEmpty(t, def.Description)
	}

	assert.Equal(t, []string{"tasks:write"}, registry.defs["task_create"].RequiredScopes)
	assert.Equal(t, []string{"tasks:read"}, registry.defs["task_list"].RequiredScopes)
	assert.Empty(t, registry.defs["ping"].RequiredScopes, "diagnostic tools are open")
}

func TestRegisterAllRequiresTaskStore(t *testing.T) {
	deps := testDeps()
	deps.Tasks = nil

	err := RegisterAll(newFakeRegistry(), deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task store is required")
}

func TestBuildToolSchema(t *testing.T) {
	var config ToolConfig
	for _, c := range Configs() {
		if c.Name == "credential_store" {
			config = c
			break
		}
	}
	require.Equal(t, "credential_store", config.Name)

	schema := BuildToolSchema(config)
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"service", "secret"}, schema["required"])

	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	service, ok := properties["service"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "string", service["type"])
	assert.NotEmpty(t, service["description"])
}

func TestRegisteredHandlersEnforceRequiredParams(t *testing.T) {
	registry := newFakeRegistry()
	require.NoError(t, RegisterAll(registry, testDeps()))

	sec := testSecurityContext("alice", newFakeVault())
	handler := registry.defs["credential_store"].Handler

	_, err := handler(context.Background(), map[string]interface{}{"service": "github"}, sec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required parameter: secret")
}

func TestRegisterDefaultsLogger(t *testing.T) {
	registry := newFakeRegistry()
	deps := testDeps()
	deps.Logger = nil

	require.NoError(t, RegisterAll(registry, deps))

	// Handlers built with a defaulted logger must still run.
	sec := testSecurityContext("alice", newFakeVault())
	_, err := registry.defs["ping"].Handler(context.Background(), nil, sec)
	assert.NoError(t, err)
}
