// Package bootstrap builds the MCP protocol surface over the security
// gateway: it creates the mcp-go server, mirrors every registered tool
// into it, and runs the configured transport.
package bootstrap

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/service/config"
	"github.com/modelguard/mcp-guard/pkg/service/gateway"
)

// Bootstrapper handles server initialization and component registration
type Bootstrapper struct {
	logger  *slog.Logger
	cfg     *config.Config
	gateway *gateway.Gateway
}

// NewBootstrapper creates a new bootstrapper instance
func NewBootstrapper(logger *slog.Logger, cfg *config.Config, gw *gateway.Gateway) *Bootstrapper {
	return &Bootstrapper{
		logger:  logger.With("component", "bootstrap"),
		cfg:     cfg,
		gateway: gw,
	}
}

// InitializeDirectories creates the parent directories of every
// configured on-disk artifact.
func (b *Bootstrapper) InitializeDirectories() error {
	for _, path := range []string{b.cfg.StorePath, b.cfg.AuditLogPath, b.cfg.AuditDBPath} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return errors.New(errors.CodeIoError, "bootstrap",
				fmt.Sprintf("failed to create storage directory for %s", path), err)
		}
	}
	return nil
}

// CreateMCPServer creates a new mcp-go server with capabilities
func (b *Bootstrapper) CreateMCPServer() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		b.gateway.Name(),
		b.gateway.Version(),
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
	)

	if mcpServer == nil {
		return nil
	}

	return mcpServer
}

// RegisterComponents mirrors every gateway tool into the MCP server.
// Handlers dispatch back through the gateway so each call runs the full
// security pipeline.
func (b *Bootstrapper) RegisterComponents(mcpServer *server.MCPServer) error {
	if mcpServer == nil {
		return errors.New(errors.CodeInternalError, "bootstrap", "mcp server not initialized", nil)
	}

	for _, summary := range b.gateway.HandleListTools() {
		tool := mcp.Tool{
			Name:        summary.Name,
			Description: summary.Description,
			InputSchema: toolInputSchema(summary.InputSchema),
		}
		mcpServer.AddTool(tool, b.bridgeHandler(summary.Name))
		b.logger.Debug("Mirrored tool", "name", summary.Name)
	}

	b.logger.Info("Registered components", "tools", len(b.gateway.HandleListTools()))
	return nil
}
