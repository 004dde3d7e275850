package security

import "context"

// Predicate is a custom authorization check evaluated against the
// verified identity of a request. Predicates must be pure and fast;
// they run on the request path under no lock.
type Predicate func(authCtx *AuthContext) bool

// AuthorizationRule gates access to a named resource. A caller must
// hold every scope in RequiredScopes, and Predicate, when set, must
// return true.
type AuthorizationRule struct {
	// Resource is the resource name the rule applies to
	Resource string
	// RequiredScopes lists scopes the caller must all hold
	RequiredScopes []string
	// Predicate is an optional additional check
	Predicate Predicate
}

// SecretStore is the capability handed to tool handlers for reading
// and writing per-user secrets.
type SecretStore interface {
	Store(key, secret string) error
	Retrieve(key string) (string, error)
	Delete(key string) (bool, error)
	Exists(key string) bool
}

// SecurityContext bundles the verified identity of a call with the
// capabilities a handler may use.
type SecurityContext struct {
	// Auth is the verified identity of the caller
	Auth *AuthContext
	// Vault provides scoped secret storage
	Vault SecretStore
}

// ToolHandler executes a tool call. Params are the tool arguments
// after middleware processing; the SecurityContext is never nil.
type ToolHandler func(ctx context.Context, params map[string]interface{}, sec *SecurityContext) (interface{}, error)

// ToolDefinition describes a tool the gateway can serve.
type ToolDefinition struct {
	// Name uniquely identifies the tool
	Name string
	// Description is the human-readable summary shown in listings
	Description string
	// InputSchema is the JSON schema for the tool arguments
	InputSchema map[string]interface{}
	// RequiredScopes lists scopes a caller must hold to invoke the tool
	RequiredScopes []string
	// CustomAuthCheck is an optional per-tool authorization predicate
	CustomAuthCheck Predicate
	// Handler executes the call
	Handler ToolHandler
}

// ToolSummary is the public listing form of a registered tool. It
// deliberately omits scopes, predicates, and handlers.
type ToolSummary struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// Middleware inspects or transforms an authenticated request before
// the tool handler runs. It either continues the chain, optionally
// with a replacement request, or blocks the call.
type Middleware func(req *Request, sec *SecurityContext) MiddlewareResult

// MiddlewareResult is the outcome of one middleware invocation.
type MiddlewareResult struct {
	next    *Request
	blocked bool
	reason  string
}

// Continue passes the given request on to the next middleware or, at
// the end of the chain, to the tool handler.
func Continue(req *Request) MiddlewareResult {
	return MiddlewareResult{next: req}
}

// Block stops the chain; the tool handler does not run. The reason is
// recorded in the audit trail.
func Block(reason string) MiddlewareResult {
	return MiddlewareResult{blocked: true, reason: reason}
}

// Blocked reports whether the middleware blocked the call.
func (r MiddlewareResult) Blocked() bool {
	return r.blocked
}

// Reason returns the block reason, empty when the chain continued.
func (r MiddlewareResult) Reason() string {
	return r.reason
}

// Request returns the request to continue with. It is nil when the
// call was blocked.
func (r MiddlewareResult) Request() *Request {
	return r.next
}
