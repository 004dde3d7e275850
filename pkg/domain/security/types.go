// Package security provides the domain types shared by the gateway's
// authentication, authorization, and auditing components.
//
// The security domain follows a layered model where:
//   - Tokens prove identity and carry the granted scope
//   - Sessions bound the lifetime of an authenticated interaction
//   - Authorization rules gate access to individual resources
//   - Audit entries record every security-relevant decision
//
// Key capabilities:
//   - HMAC-signed bearer tokens with scoped claims
//   - Server-side sessions with absolute expiry
//   - Default-deny, scope-based resource authorization
//   - Bounded, queryable audit trail
package security

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// DefaultScope is granted when a token is issued without an explicit scope.
var DefaultScope = []string{"read", "write"}

// TokenParam is the request parameter carrying the bearer token on a
// tool call. Transports strip it before arguments reach the handler.
const TokenParam = "_token"

// Request is a protocol-shaped request flowing through the gateway.
// Method names the operation (for tool calls, the tool name once the
// pipeline has resolved it) and Params carries the raw parameters.
type Request struct {
	// Method is the operation being invoked
	Method string `json:"method"`
	// Params contains the request parameters as loosely typed JSON
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the gateway's answer to a Request. Exactly one of Result
// and Error is set.
type Response struct {
	Result interface{}    `json:"result,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed request in a transport-neutral way.
type ResponseError struct {
	// Code is the stable, machine-readable failure code
	Code string `json:"code"`
	// Message is a human-readable description, safe to return to callers
	Message string `json:"message"`
	// Data carries optional structured detail such as retry hints
	Data map[string]interface{} `json:"data,omitempty"`
}

// AuthContext is the verified identity attached to a request after the
// token and session checks have passed. It is handed to authorization
// predicates, middlewares, and tool handlers.
type AuthContext struct {
	// UserID is the authenticated principal
	UserID string
	// SessionID is the live session the token is bound to
	SessionID string
	// Scope is the set of permissions granted to the token
	Scope sets.Set[string]
}

// NewAuthContext builds an AuthContext from verified token claims.
func NewAuthContext(userID, sessionID string, scope []string) *AuthContext {
	return &AuthContext{
		UserID:    userID,
		SessionID: sessionID,
		Scope:     sets.New(scope...),
	}
}

// HasScope reports whether the context carries the given scope.
func (c *AuthContext) HasScope(scope string) bool {
	return c.Scope.Has(scope)
}

// ScopeList returns the granted scopes as a sorted slice.
func (c *AuthContext) ScopeList() []string {
	return sets.List(c.Scope)
}

// TokenPayload is the claim set carried by a gateway token. Field names
// mirror the JWT claims on the wire.
type TokenPayload struct {
	UserID    string   `json:"userId"`
	SessionID string   `json:"sessionId"`
	Scope     []string `json:"scope"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	Issuer    string   `json:"iss"`
}

// Session represents a server-side authenticated session.
type Session struct {
	// ID is the session identifier, a v4 UUID
	ID string `json:"id"`
	// UserID is the principal the session belongs to
	UserID string `json:"user_id"`
	// CreatedAt is when the session was created
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt is the absolute expiry deadline
	ExpiresAt time.Time `json:"expires_at"`
	// Metadata carries optional caller-supplied context
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Expired reports whether the session has expired as of the given instant.
func (s Session) Expired(at time.Time) bool {
	return at.After(s.ExpiresAt)
}

// RemainingLifetime returns how long the session is still valid at the
// given instant, or zero when it has expired.
func (s Session) RemainingLifetime(at time.Time) time.Duration {
	if s.Expired(at) {
		return 0
	}
	return s.ExpiresAt.Sub(at)
}
