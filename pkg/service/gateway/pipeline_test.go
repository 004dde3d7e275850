package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/ratelimit"
)

// toolCallEntries returns the audit entries for tool invocations; the
// pipeline writes exactly one per call.
func toolCallEntries(g *testGateway) []security.AuditEntry {
	return g.Audit().ByAction(security.ActionToolCall, 0)
}

func requireErrorCode(t *testing.T, resp *security.Response, code domainerrors.Code) {
	t.Helper()
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error, "expected an error response")
	assert.Equal(t, string(code), resp.Error.Code)
	assert.Nil(t, resp.Result)
}

func TestHandleCallToolHappyPath(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.RegisterTool(echoTool("t", "read")))

	grant, err := g.CreateSession(ctx, "u1", []string{"read"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, map[string]interface{}{"x": 1}))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, result["x"])

	entries := toolCallEntries(g)
	require.Len(t, entries, 1, "exactly one audit entry per call")
	assert.Equal(t, security.ResultSuccess, entries[0].Result)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.Equal(t, grant.SessionID, entries[0].SessionID)
	assert.Equal(t, "t", entries[0].Resource)

	assert.Equal(t, 1, g.metrics.snapshot().toolCalls["t/success"])
}

func TestHandleCallToolUnknownTool(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	resp := g.HandleCallTool(ctx, callRequest("ghost", "irrelevant", nil))
	requireErrorCode(t, resp, domainerrors.CodeToolNotFound)

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, security.ResultFailure, entries[0].Result)
	assert.Equal(t, "ghost", entries[0].Resource)
	assert.Empty(t, entries[0].UserID, "no identity is recorded before the token verified")
	assert.Equal(t, kindToolNotFound, entries[0].Metadata["kind"])

	// Unresolved names must not become metric label values.
	assert.Equal(t, 1, g.metrics.snapshot().toolCalls["unknown/failure"])
}

func TestHandleCallToolNilRequest(t *testing.T) {
	g := newTestGateway(t)

	resp := g.HandleCallTool(context.Background(), nil)
	requireErrorCode(t, resp, domainerrors.CodeToolNotFound)
}

func TestHandleCallToolMissingToken(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	resp := g.HandleCallTool(ctx, callRequest("t", "", nil))
	requireErrorCode(t, resp, domainerrors.CodeAuthRequired)

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, kindAuthRequired, entries[0].Metadata["kind"])
}

func TestHandleCallToolExpiredToken(t *testing.T) {
	g := newTestGateway(t, func(cfg *Config) {
		cfg.TokenExpiry = time.Minute
		cfg.SessionExpiry = time.Hour
	})
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	g.clock.Advance(61 * time.Second)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeTokenExpired)

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, security.ResultFailure, entries[0].Result)
	assert.Equal(t, kindAuthInvalid, entries[0].Metadata["kind"])
	assert.Equal(t, string(domainerrors.CodeTokenExpired), entries[0].Metadata["reason"])
}

func TestHandleCallToolForgedToken(t *testing.T) {
	g := newTestGateway(t)
	other := newTestGateway(t, func(cfg *Config) {
		cfg.SigningSecret = "completely-different-secret"
	})
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	grant, err := other.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeTokenBadSignature)
}

func TestHandleCallToolDestroyedSession(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)
	require.True(t, g.DestroySession(ctx, grant.SessionID))

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeSessionNotFound)

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, kindSessionInvalid, entries[0].Metadata["kind"])
	assert.Equal(t, "u1", entries[0].UserID, "identity comes from the verified token")
}

func TestHandleCallToolExpiredSession(t *testing.T) {
	g := newTestGateway(t, func(cfg *Config) {
		cfg.SessionExpiry = 30 * time.Minute
		cfg.TokenExpiry = 2 * time.Hour
	})
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	g.clock.Advance(31 * time.Minute)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeSessionExpired)
}

func TestHandleCallToolMissingScope(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t", "write")))

	grant, err := g.CreateSession(ctx, "u1", []string{"read"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeMissingScopes)
	assert.Contains(t, resp.Error.Message, "write")

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, security.ResultFailure, entries[0].Result)
	assert.Equal(t, "t", entries[0].Resource)
	assert.Equal(t, kindUnauthorized, entries[0].Metadata["kind"])
}

func TestHandleCallToolCustomPredicate(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	def := echoTool("admin_reset")
	def.CustomAuthCheck = func(auth *security.AuthContext) bool {
		return auth.UserID == "root"
	}
	require.NoError(t, g.RegisterTool(def))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)
	resp := g.HandleCallTool(ctx, callRequest("admin_reset", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodePredicateDenied)

	rootGrant, err := g.CreateSession(ctx, "root", nil, nil)
	require.NoError(t, err)
	resp = g.HandleCallTool(ctx, callRequest("admin_reset", rootGrant.Token, nil))
	require.Nil(t, resp.Error)
}

func TestHandleCallToolOpenToolSkipsAuthorization(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	// No declared scopes, no predicate, no installed rule: any
	// authenticated caller may invoke the tool.
	require.NoError(t, g.RegisterTool(echoTool("ping")))

	grant, err := g.CreateSession(ctx, "u1", []string{"misc"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("ping", grant.Token, nil))
	require.Nil(t, resp.Error)
}

func TestHandleCallToolOperatorRuleBindsUndeclaredTool(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	// The tool declares nothing; an installed rule still gates it.
	require.NoError(t, g.RegisterTool(echoTool("maintenance")))
	require.NoError(t, g.AddAuthorizationRule(security.AuthorizationRule{
		Resource:       "maintenance",
		RequiredScopes: []string{"admin"},
	}))

	grant, err := g.CreateSession(ctx, "u1", []string{"read"}, nil)
	require.NoError(t, err)
	resp := g.HandleCallTool(ctx, callRequest("maintenance", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeMissingScopes)

	admin, err := g.CreateSession(ctx, "ops", []string{"admin"}, nil)
	require.NoError(t, err)
	resp = g.HandleCallTool(ctx, callRequest("maintenance", admin.Token, nil))
	require.Nil(t, resp.Error)
}

func TestHandleCallToolRuleFollowsRedefinition(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, g.RegisterTool(echoTool("t", "admin")))

	grant, err := g.CreateSession(ctx, "u1", []string{"read"}, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeMissingScopes)

	require.NoError(t, g.RegisterTool(echoTool("t", "read")))
	resp = g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	require.Nil(t, resp.Error, "re-registration must refresh the mirrored rule")
}

func TestHandleCallToolRateLimit(t *testing.T) {
	g := newTestGateway(t, func(cfg *Config) {
		cfg.RateLimit = ratelimit.Quota{Window: time.Second, MaxRequests: 3}
	})
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
		require.Nil(t, resp.Error, "call %d should pass", i+1)
	}

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeRateLimitExceeded)
	assert.NotEmpty(t, resp.Error.Data["resetAt"])
	assert.Equal(t, 1, g.metrics.snapshot().rateLimitHits)

	g.clock.Advance(1100 * time.Millisecond)

	resp = g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	require.Nil(t, resp.Error, "a new window should admit the call")

	entries := toolCallEntries(g)
	require.Len(t, entries, 5)
	assert.Equal(t, security.ResultFailure, entries[3].Result)
	assert.Equal(t, kindRateLimited, entries[3].Metadata["kind"])
}

func TestHandleCallToolMiddlewareTransforms(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	g.Use(func(req *security.Request, _ *security.SecurityContext) security.MiddlewareResult {
		params := map[string]interface{}{"stage": "first"}
		for k, v := range req.Params {
			params[k] = v
		}
		return security.Continue(&security.Request{Method: req.Method, Params: params})
	})
	g.Use(func(req *security.Request, _ *security.SecurityContext) security.MiddlewareResult {
		req.Params["stage"] = fmt.Sprintf("%s,second", req.Params["stage"])
		return security.Continue(req)
	})

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, map[string]interface{}{"x": 1}))
	require.Nil(t, resp.Error)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "first,second", result["stage"], "middleware run in registration order")
	assert.Equal(t, 1, result["x"])
}

func TestHandleCallToolMiddlewareSeesIdentity(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.RegisterTool(echoTool("t")))

	var seenUser string
	g.Use(func(req *security.Request, sec *security.SecurityContext) security.MiddlewareResult {
		seenUser = sec.Auth.UserID
		return security.Continue(req)
	})

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	require.Nil(t, resp.Error)
	assert.Equal(t, "u1", seenUser)
}

func TestHandleCallToolMiddlewareBlocks(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	handlerRan := false
	def := echoTool("t")
	def.Handler = func(context.Context, map[string]interface{}, *security.SecurityContext) (interface{}, error) {
		handlerRan = true
		return nil, nil
	}
	require.NoError(t, g.RegisterTool(def))

	g.Use(func(*security.Request, *security.SecurityContext) security.MiddlewareResult {
		return security.Block("payload rejected")
	})

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeBlockedByMiddleware)
	assert.Contains(t, resp.Error.Message, "payload rejected")
	assert.False(t, handlerRan, "blocked calls must not reach the handler")

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, kindBlocked, entries[0].Metadata["kind"])
}

func TestHandleCallToolHandlerError(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	def := echoTool("t")
	def.Handler = func(context.Context, map[string]interface{}, *security.SecurityContext) (interface{}, error) {
		return nil, fmt.Errorf("backend unavailable")
	}
	require.NoError(t, g.RegisterTool(def))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("t", grant.Token, nil))
	requireErrorCode(t, resp, domainerrors.CodeHandlerFailed)
	assert.Contains(t, resp.Error.Message, "backend unavailable")

	entries := toolCallEntries(g)
	require.Len(t, entries, 1)
	assert.Equal(t, security.ResultError, entries[0].Result)
	assert.Equal(t, "backend unavailable", entries[0].Metadata["error"])

	assert.Equal(t, 1, g.metrics.snapshot().toolCalls["t/error"])
}

func TestHandleCallToolVaultReachesHandlers(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	def := echoTool("credential_roundtrip")
	def.Handler = func(_ context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		key := fmt.Sprintf("%s:test-service", sec.Auth.UserID)
		if err := sec.Vault.Store(key, "s3cret"); err != nil {
			return nil, err
		}
		return sec.Vault.Retrieve(key)
	}
	require.NoError(t, g.RegisterTool(def))

	grant, err := g.CreateSession(ctx, "u1", nil, nil)
	require.NoError(t, err)

	resp := g.HandleCallTool(ctx, callRequest("credential_roundtrip", grant.Token, nil))
	require.Nil(t, resp.Error)
	assert.Equal(t, "s3cret", resp.Result)
}

func TestHandleCallToolFailureOrdering(t *testing.T) {
	// An unknown tool wins over a missing token, and a missing token
	// wins over a bad one: the first failing step decides.
	g := newTestGateway(t)
	ctx := context.Background()

	resp := g.HandleCallTool(ctx, callRequest("ghost", "", nil))
	requireErrorCode(t, resp, domainerrors.CodeToolNotFound)

	require.NoError(t, g.RegisterTool(echoTool("t", "admin")))
	resp = g.HandleCallTool(ctx, callRequest("t", "not-a-token", nil))
	requireErrorCode(t, resp, domainerrors.CodeTokenMalformed)
}
