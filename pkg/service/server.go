package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/modelguard/mcp-guard/pkg/api"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/audit"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/metrics"
	persistence "github.com/modelguard/mcp-guard/pkg/infrastructure/persistence/session"
	"github.com/modelguard/mcp-guard/pkg/infrastructure/policy"
	"github.com/modelguard/mcp-guard/pkg/service/config"
	"github.com/modelguard/mcp-guard/pkg/service/gateway"
	"github.com/modelguard/mcp-guard/pkg/service/tools"
)

// dispatcherDrainTimeout bounds how long shutdown waits for in-flight
// audit deliveries.
const dispatcherDrainTimeout = 5 * time.Second

// ServerFactory builds a fully wired server from configuration.
type ServerFactory struct {
	logger *slog.Logger
	config *config.Config
}

func NewServerFactory(logger *slog.Logger, cfg *config.Config) *ServerFactory {
	return &ServerFactory{
		logger: logger,
		config: cfg,
	}
}

// CreateServer wires every component and returns the runnable server.
// On failure everything opened so far is closed again.
func (f *ServerFactory) CreateServer(ctx context.Context) (api.MCPServer, error) {
	deps, err := f.buildDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependencies: %w", err)
	}

	server, err := NewMCPServerFromDeps(deps)
	if err != nil {
		deps.Gateway.Stop()
		f.discard(deps)
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	f.logger.Info("Server assembled",
		"name", deps.Gateway.Name(),
		"version", deps.Gateway.Version(),
		"transport", f.config.Transport)
	return server, nil
}

// BuildDependenciesForTools exposes the wired dependencies without a
// transport, for callers that drive the gateway directly.
func (f *ServerFactory) BuildDependenciesForTools(ctx context.Context) (*Dependencies, error) {
	return f.buildDependencies(ctx)
}

func (f *ServerFactory) buildDependencies(ctx context.Context) (*Dependencies, error) {
	if err := f.config.RequireSigningSecret(); err != nil {
		return nil, err
	}

	deps := &Dependencies{
		Logger: f.logger,
		Config: f.config,
	}

	sink, err := f.createAuditSink(deps)
	if err != nil {
		f.discard(deps)
		return nil, fmt.Errorf("failed to create audit sinks: %w", err)
	}

	store, err := f.createSessionStore(deps)
	if err != nil {
		f.discard(deps)
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	gw, err := f.createGateway(sink, store)
	if err != nil {
		f.discard(deps)
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	deps.Gateway = gw

	if err := f.loadPolicy(ctx, deps.Gateway); err != nil {
		deps.Gateway.Stop()
		f.discard(deps)
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	if err := f.registerBuiltinTools(deps.Gateway); err != nil {
		deps.Gateway.Stop()
		f.discard(deps)
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}

	if f.config.TelemetryAddr != "" {
		deps.Telemetry = metrics.NewTelemetryServer(f.config.TelemetryAddr)
	}

	if err := deps.Validate(); err != nil {
		deps.Gateway.Stop()
		f.discard(deps)
		return nil, fmt.Errorf("dependency validation failed: %w", err)
	}
	return deps, nil
}

// createAuditSink opens the configured sinks and wraps them in a
// dispatcher. Returns nil when no sink is configured.
func (f *ServerFactory) createAuditSink(deps *Dependencies) (audit.Sink, error) {
	var sinks []audit.Sink

	if f.config.AuditLogPath != "" {
		fileSink, err := audit.NewFileSink(f.config.AuditLogPath)
		if err != nil {
			return nil, err
		}
		deps.addCloser("audit file sink", fileSink.Close)
		sinks = append(sinks, fileSink)
	}

	if f.config.AuditDBPath != "" {
		boltSink, err := audit.NewBoltSink(f.config.AuditDBPath)
		if err != nil {
			return nil, err
		}
		deps.addCloser("audit database sink", boltSink.Close)
		sinks = append(sinks, boltSink)
	}

	if len(sinks) == 0 {
		return nil, nil
	}

	dispatcher := audit.NewDispatcher(f.logger, sinks...)
	deps.addCloser("audit dispatcher", func() error {
		drainCtx, cancel := context.WithTimeout(context.Background(), dispatcherDrainTimeout)
		defer cancel()
		return dispatcher.Close(drainCtx)
	})
	return dispatcher, nil
}

// createSessionStore opens the persistence store when a path is
// configured. Returns nil otherwise; the gateway then keeps sessions
// in memory only.
func (f *ServerFactory) createSessionStore(deps *Dependencies) (*persistence.BoltStore, error) {
	if f.config.StorePath == "" {
		return nil, nil
	}
	store, err := persistence.NewBoltStore(f.config.StorePath, f.logger)
	if err != nil {
		return nil, err
	}
	deps.addCloser("session store", store.Close)
	return store, nil
}

func (f *ServerFactory) createGateway(sink audit.Sink, store *persistence.BoltStore) (*gateway.Gateway, error) {
	gatewayCfg := f.config.ToGatewayConfig()
	if sink != nil {
		gatewayCfg.Audit.Sink = sink
	}

	opts := []gateway.Option{gateway.WithMetrics(f.createRecorder())}
	if store != nil {
		opts = append(opts, gateway.WithSessionStore(store))
	}
	return gateway.New(gatewayCfg, f.logger, opts...)
}

// createRecorder returns the Prometheus recorder when telemetry is
// enabled. The default registerer is used so the telemetry server's
// /metrics handler sees the collectors.
func (f *ServerFactory) createRecorder() metrics.Recorder {
	if f.config.TelemetryAddr == "" {
		return metrics.NopRecorder{}
	}
	return metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
}

// loadPolicy installs the authorization rules from the configured
// policy file, if any.
func (f *ServerFactory) loadPolicy(ctx context.Context, gw *gateway.Gateway) error {
	if f.config.PolicyFile == "" {
		return nil
	}

	doc, err := policy.LoadFile(f.config.PolicyFile)
	if err != nil {
		return err
	}
	rules, err := doc.Build(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := gw.AddAuthorizationRule(rule); err != nil {
			return fmt.Errorf("rule for %q: %w", rule.Resource, err)
		}
	}

	f.logger.Info("Policy loaded", "file", f.config.PolicyFile, "rules", len(rules))
	return nil
}

func (f *ServerFactory) registerBuiltinTools(gw *gateway.Gateway) error {
	return tools.RegisterAll(gw, tools.Dependencies{
		Tasks:          tools.NewTaskStore(),
		Logger:         f.logger.With("component", "tools"),
		ServerName:     gw.Name(),
		ServerVersion:  gw.Version(),
		StartedAt:      time.Now(),
		ActiveSessions: gw.ActiveSessions,
	})
}

// discard closes everything tracked on deps, logging rather than
// returning failures. Used on construction error paths.
func (f *ServerFactory) discard(deps *Dependencies) {
	for _, err := range deps.closeAll() {
		f.logger.Warn("Cleanup after failed construction", "error", err)
	}
}

// InitializeServer is the composition root: it builds a fully wired
// server from the given configuration.
func InitializeServer(logger *slog.Logger, cfg *config.Config) (api.MCPServer, error) {
	factory := NewServerFactory(logger, cfg)
	return factory.CreateServer(context.Background())
}
