// Package service assembles the security gateway, its stores and audit
// sinks, and the MCP transport into a runnable server.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/modelguard/mcp-guard/pkg/api"
	"github.com/modelguard/mcp-guard/pkg/service/bootstrap"
	"github.com/modelguard/mcp-guard/pkg/service/config"
	"github.com/modelguard/mcp-guard/pkg/service/gateway"
)

// closer is one resource the server must release on shutdown.
type closer struct {
	name  string
	close func() error
}

// Dependencies carries everything a running server owns: the gateway,
// the optional telemetry listener, and the resources that must be
// closed when the server stops.
type Dependencies struct {
	Logger  *slog.Logger
	Config  *config.Config
	Gateway *gateway.Gateway

	// Telemetry serves /metrics and /healthz; nil when disabled.
	Telemetry *http.Server

	closers []closer
}

// addCloser registers a resource for shutdown. Resources close in
// reverse registration order, so register producers after the sinks
// they write to.
func (d *Dependencies) addCloser(name string, fn func() error) {
	d.closers = append(d.closers, closer{name: name, close: fn})
}

// closeAll releases every registered resource, newest first.
func (d *Dependencies) closeAll() []error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		c := d.closers[i]
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	d.closers = nil
	return errs
}

func (d *Dependencies) Validate() error {
	var errs []error

	if d.Logger == nil {
		errs = append(errs, fmt.Errorf("logger is required"))
	}
	if d.Config == nil {
		errs = append(errs, fmt.Errorf("config is required"))
	}
	if d.Gateway == nil {
		errs = append(errs, fmt.Errorf("gateway is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("dependency validation failed: %v", errs)
	}
	return nil
}

type server struct {
	dependencies *Dependencies
	bootstrapper *bootstrap.Bootstrapper

	shutdownMutex  sync.Mutex
	cancelServe    context.CancelFunc
	isShuttingDown bool
}

// Start brings the server up and serves the configured transport until
// ctx is cancelled or Stop is called. A shutdown through Stop returns
// nil, not context.Canceled.
func (s *server) Start(ctx context.Context) error {
	if err := s.bootstrapper.InitializeDirectories(); err != nil {
		return err
	}

	mcpServer := s.bootstrapper.CreateMCPServer()
	if err := s.bootstrapper.RegisterComponents(mcpServer); err != nil {
		return err
	}

	if s.dependencies.Telemetry != nil {
		go func() {
			err := s.dependencies.Telemetry.ListenAndServe()
			if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				s.dependencies.Logger.Error("Telemetry server failed", "error", err)
			}
		}()
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.shutdownMutex.Lock()
	s.cancelServe = cancel
	s.shutdownMutex.Unlock()

	err := s.bootstrapper.Serve(serveCtx, mcpServer)
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop shuts the server down: the transport stops, the telemetry
// listener drains, the gateway's sweepers halt, and every owned
// resource closes in reverse order of acquisition. Safe to call more
// than once.
func (s *server) Stop(ctx context.Context) error {
	s.shutdownMutex.Lock()
	if s.isShuttingDown {
		s.shutdownMutex.Unlock()
		return nil
	}
	s.isShuttingDown = true
	cancel := s.cancelServe
	s.shutdownMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if s.dependencies.Telemetry != nil {
		if err := s.dependencies.Telemetry.Shutdown(ctx); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	s.dependencies.Gateway.Stop()
	errs = append(errs, s.dependencies.closeAll()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d error(s): %v", len(errs), errs)
	}
	s.dependencies.Logger.Info("Server stopped")
	return nil
}

// NewMCPServerFromDeps wraps validated dependencies in a runnable
// server.
func NewMCPServerFromDeps(deps *Dependencies) (api.MCPServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	bootstrapper := bootstrap.NewBootstrapper(deps.Logger, deps.Config, deps.Gateway)

	return &server{
		dependencies: deps,
		bootstrapper: bootstrapper,
	}, nil
}
