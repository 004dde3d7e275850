package security

import "time"

// AuditResult classifies the outcome recorded by an audit entry.
type AuditResult string

// Audit results
const (
	ResultSuccess AuditResult = "success" // Operation succeeded
	ResultFailure AuditResult = "failure" // Operation was denied or rejected
	ResultError   AuditResult = "error"   // Operation failed while executing
)

// Audit action names. Every entry written by the gateway uses one of
// these values so trails can be filtered reliably.
const (
	ActionTokenIssued            = "token_issued"
	ActionTokenVerified          = "token_verified"
	ActionTokenInvalid           = "token_invalid"
	ActionTokenExpired           = "token_expired"
	ActionSessionCreated         = "session_created"
	ActionSessionVerified        = "session_verified"
	ActionSessionExpired         = "session_expired"
	ActionSessionDestroyed       = "session_destroyed"
	ActionRateLimitExceeded      = "rate_limit_exceeded"
	ActionAuthorizationSucceeded = "authorization_succeeded"
	ActionAuthorizationFailed    = "authorization_failed"
	ActionToolCall               = "tool_call"
)

// AuditEntry is a single record in the audit trail.
type AuditEntry struct {
	// Timestamp is when the entry was recorded
	Timestamp time.Time `json:"timestamp"`
	// Action is one of the fixed audit action names
	Action string `json:"action"`
	// Result classifies the outcome
	Result AuditResult `json:"result"`
	// UserID is the acting principal, when known
	UserID string `json:"user_id,omitempty"`
	// SessionID is the session involved, when known
	SessionID string `json:"session_id,omitempty"`
	// Resource is the resource acted on, typically a tool name
	Resource string `json:"resource,omitempty"`
	// Metadata carries additional structured detail
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
