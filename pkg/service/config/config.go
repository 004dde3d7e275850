// Package config loads gateway settings from defaults, an optional env
// file, and MCP_GUARD_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelguard/mcp-guard/pkg/infrastructure/audit"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/ratelimit"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/vault"
	"github.com/modelguard/mcp-guard/pkg/service/gateway"
)

// Transport selection for the server binary.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config is the flat configuration surface shared by the server and the
// operator CLI. The signing secret is deliberately env-only; there is no
// flag for it.
type Config struct {
	// Service identification
	ServerName    string `env:"MCP_GUARD_SERVER_NAME"`
	ServerVersion string `env:"MCP_GUARD_SERVER_VERSION"`

	// Token signing and lifetime
	SigningSecret string        `env:"MCP_GUARD_SIGNING_SECRET"`
	Issuer        string        `env:"MCP_GUARD_ISSUER"`
	TokenExpiry   time.Duration `env:"MCP_GUARD_TOKEN_EXPIRY"`

	// Session lifecycle; StorePath enables bbolt persistence when set
	SessionExpiry time.Duration `env:"MCP_GUARD_SESSION_EXPIRY"`
	StorePath     string        `env:"MCP_GUARD_STORE_PATH"`

	// Per-user fixed-window rate limiting
	RateLimitWindow time.Duration `env:"MCP_GUARD_RATE_LIMIT_WINDOW"`
	RateLimitMax    int           `env:"MCP_GUARD_RATE_LIMIT_MAX"`

	// Credential vault
	VaultService  string `env:"MCP_GUARD_VAULT_SERVICE"`
	VaultFallback bool   `env:"MCP_GUARD_VAULT_FALLBACK"`

	// Audit trail; log and db paths each enable an optional sink
	AuditMaxEntries int    `env:"MCP_GUARD_AUDIT_MAX_ENTRIES"`
	AuditLogPath    string `env:"MCP_GUARD_AUDIT_LOG"`
	AuditDBPath     string `env:"MCP_GUARD_AUDIT_DB"`

	// Authorization policy file (YAML, optional)
	PolicyFile string `env:"MCP_GUARD_POLICY_FILE"`

	// Transport selection
	Transport string `env:"MCP_GUARD_TRANSPORT"`
	HTTPAddr  string `env:"MCP_GUARD_HTTP_ADDR"`

	// Prometheus endpoint; empty disables telemetry
	TelemetryAddr string `env:"MCP_GUARD_TELEMETRY_ADDR"`

	// Logging
	LogLevel string `env:"MCP_GUARD_LOG_LEVEL"`
}

// Load builds a configuration from defaults, the given env file (when it
// exists), and environment variables, then validates it.
func Load(envFile string) (*Config, error) {
	cfg := DefaultConfig()

	// Load environment file if specified
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	// Apply environment variables
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		ServerName:      "mcp-guard",
		ServerVersion:   "dev",
		TokenExpiry:     time.Hour,
		SessionExpiry:   time.Hour,
		RateLimitWindow: time.Minute,
		RateLimitMax:    100,
		VaultService:    "mcp-guard",
		VaultFallback:   true,
		AuditMaxEntries: 10000,
		Transport:       TransportStdio,
		HTTPAddr:        ":8080",
		LogLevel:        "info",
	}
}

// Environment variables override defaults field by field. Values that
// fail to parse are skipped.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MCP_GUARD_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv("MCP_GUARD_SERVER_VERSION"); v != "" {
		cfg.ServerVersion = v
	}
	if v := os.Getenv("MCP_GUARD_SIGNING_SECRET"); v != "" {
		cfg.SigningSecret = v
	}
	if v := os.Getenv("MCP_GUARD_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("MCP_GUARD_TOKEN_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenExpiry = d
		}
	}
	if v := os.Getenv("MCP_GUARD_SESSION_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SessionExpiry = d
		}
	}
	if v := os.Getenv("MCP_GUARD_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("MCP_GUARD_RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimitWindow = d
		}
	}
	if v := os.Getenv("MCP_GUARD_RATE_LIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitMax = n
		}
	}
	if v := os.Getenv("MCP_GUARD_VAULT_SERVICE"); v != "" {
		cfg.VaultService = v
	}
	if v := os.Getenv("MCP_GUARD_VAULT_FALLBACK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.VaultFallback = b
		}
	}
	if v := os.Getenv("MCP_GUARD_AUDIT_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditMaxEntries = n
		}
	}
	if v := os.Getenv("MCP_GUARD_AUDIT_LOG"); v != "" {
		cfg.AuditLogPath = v
	}
	if v := os.Getenv("MCP_GUARD_AUDIT_DB"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("MCP_GUARD_POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("MCP_GUARD_TRANSPORT"); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv("MCP_GUARD_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("MCP_GUARD_TELEMETRY_ADDR"); v != "" {
		cfg.TelemetryAddr = v
	}
	if v := os.Getenv("MCP_GUARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks structural fields. The signing secret is checked
// separately so vault and diagnostic commands work without one.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return fmt.Errorf("server_name is required")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("token_expiry must be positive")
	}
	if c.SessionExpiry <= 0 {
		return fmt.Errorf("session_expiry must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("rate_limit_max must be positive")
	}
	if c.AuditMaxEntries <= 0 {
		return fmt.Errorf("audit_max_entries must be positive")
	}
	switch c.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.HTTPAddr == "" {
			return fmt.Errorf("http_addr is required for the http transport")
		}
	default:
		return fmt.Errorf("transport must be one of: stdio, http")
	}
	validLogLevels := []string{"debug", "info", "warn", "error"}
	valid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}
	return nil
}

// RequireSigningSecret is called by commands that sign or verify tokens
// before they build an authenticator.
func (c *Config) RequireSigningSecret() error {
	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret is required (set MCP_GUARD_SIGNING_SECRET)")
	}
	return nil
}

// ToGatewayConfig maps the flat configuration onto the gateway's nested
// one. Audit sinks are wired by the bootstrap layer, not here.
func (c *Config) ToGatewayConfig() gateway.Config {
	return gateway.Config{
		Name:          c.ServerName,
		Version:       c.ServerVersion,
		SigningSecret: c.SigningSecret,
		Issuer:        c.Issuer,
		SessionExpiry: c.SessionExpiry,
		TokenExpiry:   c.TokenExpiry,
		RateLimit: ratelimit.Quota{
			Window:      c.RateLimitWindow,
			MaxRequests: c.RateLimitMax,
		},
		Vault: vault.Config{
			ServiceName:      c.VaultService,
			FallbackToMemory: c.VaultFallback,
		},
		Audit: audit.Config{
			MaxEntries: c.AuditMaxEntries,
		},
	}
}
