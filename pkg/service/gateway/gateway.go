// Package gateway assembles the security pipeline that fronts every
// tool call: token verification, session checks, rate limiting,
// authorization, middleware, and audit.
package gateway

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/audit"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/metrics"
	persistence "github.com/modelguard/mcp-guard/pkg/infrastructure/persistence/session"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/ratelimit"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/vault"
	"github.com/modelguard/mcp-guard/pkg/service/auth"
	"github.com/modelguard/mcp-guard/pkg/service/authz"
	"github.com/modelguard/mcp-guard/pkg/service/session"
)

const errorDomain = "gateway"

// DefaultName identifies the gateway when the config leaves it blank.
const DefaultName = "mcp-guard"

// Config assembles the settings of every owned component.
type Config struct {
	// Name identifies the gateway in logs and is the default issuer
	Name string
	// Version is reported by diagnostic tools
	Version string
	// SigningSecret is the HMAC key for bearer tokens; required
	SigningSecret string
	// Issuer overrides the token issuer claim; defaults to Name
	Issuer string
	// SessionExpiry is the session lifetime; default 1h
	SessionExpiry time.Duration
	// TokenExpiry is the token lifetime; default 1h
	TokenExpiry time.Duration
	// RateLimit is the per-user fixed-window quota
	RateLimit ratelimit.Quota
	// Vault configures the secret store
	Vault vault.Config
	// Audit configures the in-memory audit ring and its sink
	Audit audit.Config
}

// SessionGrant is returned by CreateSession: the bearer token and the
// session it is bound to.
type SessionGrant struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
}

// Gateway owns one instance of every security component plus the tool
// registry and the middleware chain. Multiple gateways can coexist in
// one process; there is no package-level state.
type Gateway struct {
	cfg    Config
	logger *slog.Logger

	authenticator *auth.Authenticator
	sessions      *session.Manager
	limiter       *ratelimit.Limiter
	verifier      *authz.Verifier
	vault         *vault.Vault
	audit         *audit.Logger
	metrics       metrics.Recorder

	// mu guards the registry, the middleware chain, and ruleSource.
	// The registry is read-mostly; call paths take the read lock.
	mu         sync.RWMutex
	tools      map[string]*security.ToolDefinition
	middleware []security.Middleware

	// ruleSource remembers which tool definition produced the
	// authorization rule currently installed for a tool name, so the
	// call path re-installs the rule only when the definition changed.
	ruleSource map[string]*security.ToolDefinition

	stopOnce sync.Once
}

type options struct {
	vault        *vault.Vault
	sessionStore *persistence.BoltStore
	metrics      metrics.Recorder
	now          func() time.Time
}

// Option configures a Gateway beyond its Config.
type Option func(*options)

// WithVault substitutes a pre-built secret store, typically one with a
// custom keyring backend.
func WithVault(v *vault.Vault) Option {
	return func(o *options) {
		o.vault = v
	}
}

// WithSessionStore enables session persistence through the store.
func WithSessionStore(store *persistence.BoltStore) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

// WithMetrics wires a metrics recorder. Defaults to a no-op.
func WithMetrics(rec metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = rec
	}
}

// WithClock overrides the time source of every owned component.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New builds a gateway and starts its background sweepers. The signing
// secret is required; a missing secret is a configuration error and
// fatal for the embedding process.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if cfg.SigningSecret == "" {
		return nil, domainerrors.New(domainerrors.CodeConfigurationInvalid, errorDomain, "signing secret is required", nil)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Issuer == "" {
		cfg.Issuer = cfg.Name
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := options{metrics: metrics.NopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}

	var authOpts []auth.Option
	var auditOpts []audit.Option
	var limiterOpts []ratelimit.Option
	var sessionOpts []session.Option
	if o.now != nil {
		authOpts = append(authOpts, auth.WithClock(o.now))
		auditOpts = append(auditOpts, audit.WithClock(o.now))
		limiterOpts = append(limiterOpts, ratelimit.WithClock(o.now))
		sessionOpts = append(sessionOpts, session.WithClock(o.now))
	}

	authenticator, err := auth.New(auth.Config{
		SigningSecret: cfg.SigningSecret,
		Issuer:        cfg.Issuer,
		TokenExpiry:   cfg.TokenExpiry,
	}, authOpts...)
	if err != nil {
		return nil, err
	}

	secretStore := o.vault
	if secretStore == nil {
		secretStore = vault.New(cfg.Vault, logger.With("component", "vault"))
	}

	g := &Gateway{
		cfg:           cfg,
		logger:        logger.With("component", "gateway"),
		authenticator: authenticator,
		sessions: session.NewManager(session.Config{
			Expiry: cfg.SessionExpiry,
			Store:  o.sessionStore,
		}, logger.With("component", "sessions"), sessionOpts...),
		limiter:    ratelimit.New(cfg.RateLimit, logger.With("component", "ratelimit"), limiterOpts...),
		verifier:   authz.NewVerifier(logger.With("component", "authz")),
		vault:      secretStore,
		audit:      audit.NewLogger(cfg.Audit, logger.With("component", "audit"), auditOpts...),
		metrics:    o.metrics,
		tools:      make(map[string]*security.ToolDefinition),
		ruleSource: make(map[string]*security.ToolDefinition),
	}

	g.logger.Info("gateway initialized", "name", cfg.Name, "version", cfg.Version, "issuer", cfg.Issuer)
	return g, nil
}

// RegisterTool adds a tool to the registry. Registering a name twice
// replaces the earlier definition.
func (g *Gateway) RegisterTool(def *security.ToolDefinition) error {
	if def == nil || def.Name == "" {
		return domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "tool definition requires a name", nil)
	}
	if def.Handler == nil {
		return domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "tool definition requires a handler", nil)
	}

	g.mu.Lock()
	_, replaced := g.tools[def.Name]
	g.tools[def.Name] = def
	// A replacement that no longer declares scopes or a predicate
	// must not leave the old definition's rule installed.
	if _, mirrored := g.ruleSource[def.Name]; mirrored && !toolDeclaresRule(def) {
		delete(g.ruleSource, def.Name)
		g.verifier.RemoveRule(def.Name)
	}
	g.mu.Unlock()

	g.logger.Debug("tool registered", "tool", def.Name, "replaced", replaced)
	return nil
}

// UnregisterTool removes a tool, reporting whether it was registered.
func (g *Gateway) UnregisterTool(name string) bool {
	g.mu.Lock()
	_, ok := g.tools[name]
	delete(g.tools, name)
	if _, mirrored := g.ruleSource[name]; mirrored {
		delete(g.ruleSource, name)
		g.verifier.RemoveRule(name)
	}
	g.mu.Unlock()

	if ok {
		g.logger.Debug("tool unregistered", "tool", name)
	}
	return ok
}

// Use appends a middleware to the chain. Middleware run in
// registration order on every authorized call.
func (g *Gateway) Use(mw security.Middleware) {
	if mw == nil {
		return
	}
	g.mu.Lock()
	g.middleware = append(g.middleware, mw)
	g.mu.Unlock()
}

// AddAuthorizationRule installs a rule directly. For resources that
// are registered tools with declared requirements, the declaration
// wins again on the next call to that tool.
func (g *Gateway) AddAuthorizationRule(rule security.AuthorizationRule) error {
	if err := g.verifier.AddRule(rule); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.ruleSource, rule.Resource)
	g.mu.Unlock()
	return nil
}

// CreateSession starts a session for the user and issues a matching
// bearer token. An empty scope list grants the default scope.
func (g *Gateway) CreateSession(ctx context.Context, userID string, scope []string, metadata map[string]interface{}) (*SessionGrant, error) {
	sess, err := g.sessions.Create(ctx, userID, metadata)
	if err != nil {
		return nil, err
	}

	token, err := g.authenticator.IssueToken(userID, sess.ID, scope)
	if err != nil {
		g.sessions.Destroy(ctx, sess.ID)
		return nil, err
	}

	granted := scope
	if len(granted) == 0 {
		granted = security.DefaultScope
	}

	g.audit.Log(security.ActionSessionCreated, security.ResultSuccess, audit.Details{
		UserID:    userID,
		SessionID: sess.ID,
	})
	g.audit.Log(security.ActionTokenIssued, security.ResultSuccess, audit.Details{
		UserID:    userID,
		SessionID: sess.ID,
		Metadata:  map[string]interface{}{"scope": granted},
	})
	g.metrics.SetActiveSessions(g.sessions.ActiveSessionCount())

	g.logger.Info("session created", "user_id", userID, "session_id", sess.ID)
	return &SessionGrant{Token: token, SessionID: sess.ID}, nil
}

// DestroySession ends a session. Bearer tokens bound to it stop
// working at the next call.
func (g *Gateway) DestroySession(ctx context.Context, sessionID string) bool {
	sess, _ := g.sessions.Get(ctx, sessionID)

	destroyed := g.sessions.Destroy(ctx, sessionID)
	if !destroyed {
		return false
	}

	details := audit.Details{SessionID: sessionID}
	if sess != nil {
		details.UserID = sess.UserID
	}
	g.audit.Log(security.ActionSessionDestroyed, security.ResultSuccess, details)
	g.metrics.SetActiveSessions(g.sessions.ActiveSessionCount())

	g.logger.Info("session destroyed", "session_id", sessionID)
	return true
}

// RefreshToken exchanges a valid token for a fresh one with the same
// identity and scope.
func (g *Gateway) RefreshToken(ctx context.Context, token string) (string, error) {
	refreshed, err := g.authenticator.RefreshToken(token)
	if err != nil {
		g.audit.AuthFailure(string(domainerrors.CodeOf(err)))
		return "", err
	}

	details := audit.Details{Metadata: map[string]interface{}{"refresh": true}}
	if payload, decodeErr := g.authenticator.DecodeToken(refreshed); decodeErr == nil {
		details.UserID = payload.UserID
		details.SessionID = payload.SessionID
	}
	g.audit.Log(security.ActionTokenIssued, security.ResultSuccess, details)
	return refreshed, nil
}

// HandleListTools returns the registered tools sorted by name. Listing
// requires no authentication; it exists for discovery.
func (g *Gateway) HandleListTools() []security.ToolSummary {
	g.mu.RLock()
	out := make([]security.ToolSummary, 0, len(g.tools))
	for _, def := range g.tools {
		out = append(out, security.ToolSummary{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Audit exposes the audit log for queries and export.
func (g *Gateway) Audit() *audit.Logger {
	return g.audit
}

// Vault exposes the secret store shared with tool handlers.
func (g *Gateway) Vault() security.SecretStore {
	return g.vault
}

// Name returns the configured gateway name.
func (g *Gateway) Name() string {
	return g.cfg.Name
}

// Version returns the configured gateway version.
func (g *Gateway) Version() string {
	return g.cfg.Version
}

// ActiveSessions returns the number of live sessions.
func (g *Gateway) ActiveSessions() int {
	return g.sessions.ActiveSessionCount()
}

// Stop cancels the background sweepers and clears the session table.
// The vault and the audit ring keep their contents.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.limiter.Destroy()
		g.sessions.Shutdown()
		g.metrics.SetActiveSessions(0)
		g.logger.Info("gateway stopped")
	})
}

func toolDeclaresRule(def *security.ToolDefinition) bool {
	return len(def.RequiredScopes) > 0 || def.CustomAuthCheck != nil
}
