package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/audit"
)

// Failure classes recorded in audit metadata and the failures metric.
// The response error code stays the more specific domain code.
const (
	kindToolNotFound   = "tool_not_found"
	kindAuthRequired   = "auth_required"
	kindAuthInvalid    = "auth_invalid"
	kindSessionInvalid = "session_invalid"
	kindRateLimited    = "rate_limit_exceeded"
	kindUnauthorized   = "unauthorized"
	kindBlocked        = "blocked_by_middleware"
	kindHandlerFailed  = "handler_failed"
)

// toolCall carries the state of one invocation through the pipeline.
// Identity fields are filled only after the token verified, so audit
// entries never carry unverified claims.
type toolCall struct {
	name      string
	token     string
	arguments map[string]interface{}

	userID    string
	sessionID string

	// metricsLabel is "unknown" until the tool resolved, keeping
	// caller-controlled names out of metric label values.
	metricsLabel string
}

// HandleCallTool runs one tool invocation through the security
// pipeline. Steps run strictly in order and the first failing step
// determines the returned error; every call writes exactly one audit
// entry with action "tool_call".
func (g *Gateway) HandleCallTool(ctx context.Context, req *security.Request) *security.Response {
	call := &toolCall{metricsLabel: "unknown"}
	if req != nil {
		if name, ok := req.Params["name"].(string); ok {
			call.name = name
		}
		if token, ok := req.Params[security.TokenParam].(string); ok {
			call.token = token
		}
		if args, ok := req.Params["arguments"].(map[string]interface{}); ok {
			call.arguments = args
		}
	}
	if call.arguments == nil {
		call.arguments = make(map[string]interface{})
	}

	// Step 1: resolve the tool and snapshot the middleware chain.
	g.mu.RLock()
	tool, known := g.tools[call.name]
	chain := make([]security.Middleware, len(g.middleware))
	copy(chain, g.middleware)
	g.mu.RUnlock()

	if !known {
		return g.fail(call, kindToolNotFound, domainerrors.New(domainerrors.CodeToolNotFound, errorDomain,
			fmt.Sprintf("tool %q is not registered", call.name), nil), nil)
	}
	call.metricsLabel = tool.Name

	// Step 2: a bearer token must accompany the call.
	if call.token == "" {
		return g.fail(call, kindAuthRequired, domainerrors.New(domainerrors.CodeAuthRequired, errorDomain,
			"authentication required: no bearer token supplied", nil), nil)
	}

	// Step 3: verify the token.
	payload, err := g.authenticator.VerifyToken(call.token)
	if err != nil {
		return g.fail(call, kindAuthInvalid, err, nil)
	}
	call.userID = payload.UserID
	call.sessionID = payload.SessionID

	// Step 4: the session the token is bound to must still be live.
	if _, err := g.sessions.Verify(ctx, payload.SessionID); err != nil {
		if domainerrors.HasCode(err, domainerrors.CodeSessionExpired) {
			g.metrics.SetActiveSessions(g.sessions.ActiveSessionCount())
		}
		return g.fail(call, kindSessionInvalid, err, nil)
	}

	// Step 5: build the auth context from the verified claims.
	authCtx := security.NewAuthContext(payload.UserID, payload.SessionID, payload.Scope)

	// Step 6: enforce the per-user rate limit.
	decision := g.limiter.CheckLimit(payload.UserID)
	if !decision.Allowed {
		g.metrics.RateLimitHit()
		limitErr := domainerrors.New(domainerrors.CodeRateLimitExceeded, errorDomain,
			fmt.Sprintf("rate limit exceeded for user %s", payload.UserID), nil)
		data := map[string]interface{}{"resetAt": decision.ResetAt.UTC().Format(time.RFC3339)}
		return g.fail(call, kindRateLimited, limitErr, data)
	}

	// Step 7: authorize when the tool declares requirements or an
	// operator rule is installed for it. Declared rules mirror the
	// tool definition; tools with neither stay open to any
	// authenticated caller.
	enforce := toolDeclaresRule(tool)
	if enforce {
		g.ensureRule(tool)
	} else {
		_, enforce = g.verifier.RuleFor(tool.Name)
	}
	if enforce {
		if err := g.verifier.Verify(tool.Name, authCtx); err != nil {
			return g.fail(call, kindUnauthorized, err, nil)
		}
	}

	sec := &security.SecurityContext{Auth: authCtx, Vault: g.vault}

	// Step 8: fold the middleware chain over the inner request.
	current := &security.Request{Method: tool.Name, Params: call.arguments}
	for _, mw := range chain {
		res := mw(current, sec)
		if res.Blocked() {
			reason := res.Reason()
			if reason == "" {
				reason = "blocked by middleware"
			}
			return g.fail(call, kindBlocked, domainerrors.New(domainerrors.CodeBlockedByMiddleware, errorDomain,
				fmt.Sprintf("request blocked: %s", reason), nil), nil)
		}
		if next := res.Request(); next != nil {
			current = next
		}
	}

	// Step 9: invoke the handler.
	result, err := tool.Handler(ctx, current.Params, sec)
	if err != nil {
		g.audit.Log(security.ActionToolCall, security.ResultError, audit.Details{
			UserID:    call.userID,
			SessionID: call.sessionID,
			Resource:  call.name,
			Metadata:  map[string]interface{}{"kind": kindHandlerFailed, "error": err.Error()},
		})
		g.metrics.ToolCall(call.metricsLabel, string(security.ResultError))
		g.metrics.Failure(kindHandlerFailed)
		g.logger.Warn("tool handler failed", "tool", tool.Name, "user_id", call.userID, "error", err)

		wrapped := domainerrors.New(domainerrors.CodeHandlerFailed, errorDomain,
			fmt.Sprintf("tool %s failed", tool.Name), err)
		return errorResponse(domainerrors.CodeHandlerFailed, wireMessage(wrapped), nil)
	}

	g.audit.Log(security.ActionToolCall, security.ResultSuccess, audit.Details{
		UserID:    call.userID,
		SessionID: call.sessionID,
		Resource:  call.name,
	})
	g.metrics.ToolCall(call.metricsLabel, string(security.ResultSuccess))
	g.logger.Debug("tool call completed", "tool", tool.Name, "user_id", call.userID)

	return &security.Response{Result: result}
}

// ensureRule keeps the verifier's rule for a tool in sync with the
// tool's declaration, installing it at most once per definition.
func (g *Gateway) ensureRule(tool *security.ToolDefinition) {
	g.mu.Lock()
	if g.ruleSource[tool.Name] == tool {
		g.mu.Unlock()
		return
	}
	g.ruleSource[tool.Name] = tool
	g.mu.Unlock()

	_ = g.verifier.AddRule(security.AuthorizationRule{
		Resource:       tool.Name,
		RequiredScopes: tool.RequiredScopes,
		Predicate:      tool.CustomAuthCheck,
	})
}

// fail records the single audit entry for a rejected call and shapes
// the error response. The audit metadata carries the pipeline failure
// class; the response keeps the specific domain code.
func (g *Gateway) fail(call *toolCall, kind string, err error, data map[string]interface{}) *security.Response {
	code := domainerrors.CodeOf(err)

	g.audit.Log(security.ActionToolCall, security.ResultFailure, audit.Details{
		UserID:    call.userID,
		SessionID: call.sessionID,
		Resource:  call.name,
		Metadata:  map[string]interface{}{"kind": kind, "reason": string(code)},
	})
	g.metrics.ToolCall(call.metricsLabel, string(security.ResultFailure))
	g.metrics.Failure(kind)
	g.logger.Warn("tool call rejected", "tool", call.name, "user_id", call.userID, "kind", kind, "reason", string(code))

	return errorResponse(code, wireMessage(err), data)
}

func errorResponse(code domainerrors.Code, message string, data map[string]interface{}) *security.Response {
	return &security.Response{Error: &security.ResponseError{
		Code:    string(code),
		Message: message,
		Data:    data,
	}}
}

// wireMessage strips the log-oriented "[domain:code]" prefix from
// domain errors so responses carry a plain message.
func wireMessage(err error) string {
	var de *domainerrors.Error
	if stderrors.As(err, &de) {
		if de.Cause != nil {
			return de.Message + ": " + de.Cause.Error()
		}
		return de.Message
	}
	return err.Error()
}
