// Command mcp-guard runs the MCP security gateway: it authenticates
// tool calls, enforces scopes and rate limits, and serves the built-in
// tool set over stdio or streamable HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/modelguard/mcp-guard/pkg/api"
	"github.com/modelguard/mcp-guard/pkg/logger"
	"github.com/modelguard/mcp-guard/pkg/service"
	"github.com/modelguard/mcp-guard/pkg/service/config"
)

// Build-time variables set via ldflags
var (
	// Version is the semantic version of the application
	Version = "dev"
	// GitCommit is the git commit SHA at build time
	GitCommit = "unknown"
	// BuildTime is the time of the build
	BuildTime = "unknown"
)

// FlagConfig holds all command line flags. The signing secret is
// deliberately absent; it is read from MCP_GUARD_SIGNING_SECRET only.
type FlagConfig struct {
	configFile    *string
	transportType *string
	httpAddr      *string
	storePath     *string
	auditLog      *string
	auditDB       *string
	policyFile    *string
	telemetryAddr *string
	logLevel      *string
	version       *bool
}

// parseFlags parses command line flags and returns configuration
func parseFlags() *FlagConfig {
	flags := &FlagConfig{
		configFile:    flag.String("config", "", "Path to an env-format configuration file"),
		transportType: flag.String("transport", "", "Transport type (stdio, http)"),
		httpAddr:      flag.String("http-addr", "", "HTTP listen address for the http transport"),
		storePath:     flag.String("store-path", "", "Session store path (enables persistence)"),
		auditLog:      flag.String("audit-log", "", "Audit log file path (enables the file sink)"),
		auditDB:       flag.String("audit-db", "", "Audit database path (enables the bolt sink)"),
		policyFile:    flag.String("policy-file", "", "Authorization policy file (YAML)"),
		telemetryAddr: flag.String("telemetry-addr", "", "Prometheus metrics listen address (e.g. :9090)"),
		logLevel:      flag.String("log-level", "", "Log level (debug, info, warn, error)"),
		version:       flag.Bool("version", false, "Show version information"),
	}
	flag.Parse()
	return flags
}

// handleSpecialFlags handles flags that exit early
func handleSpecialFlags(flags *FlagConfig) {
	if *flags.version {
		log.Info().Str("version", getVersion()).Msg("mcp-guard version")
		os.Exit(0)
	}
}

func main() {
	flags := parseFlags()

	handleSpecialFlags(flags)

	cfg, err := loadAndConfigureServer(flags)
	if err != nil {
		log.Error().Err(err).Msg("Failed to configure server")
		os.Exit(1)
	}

	mcpServer, err := createAndConfigureServer(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create server")
		os.Exit(1)
	}

	runServerWithShutdown(mcpServer)
}

// loadAndConfigureServer loads configuration and applies flag overrides
func loadAndConfigureServer(flags *FlagConfig) (*config.Config, error) {
	cfg, err := config.Load(*flags.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyConfigOverrides(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireSigningSecret(); err != nil {
		return nil, err
	}

	setupLogging(cfg.LogLevel)

	return cfg, nil
}

// applyConfigOverrides applies flag overrides to configuration
func applyConfigOverrides(cfg *config.Config, flags *FlagConfig) {
	if *flags.transportType != "" {
		cfg.Transport = *flags.transportType
	}
	if *flags.httpAddr != "" {
		cfg.HTTPAddr = *flags.httpAddr
	}
	if *flags.storePath != "" {
		cfg.StorePath = *flags.storePath
	}
	if *flags.auditLog != "" {
		cfg.AuditLogPath = *flags.auditLog
	}
	if *flags.auditDB != "" {
		cfg.AuditDBPath = *flags.auditDB
	}
	if *flags.policyFile != "" {
		cfg.PolicyFile = *flags.policyFile
	}
	if *flags.telemetryAddr != "" {
		cfg.TelemetryAddr = *flags.telemetryAddr
	}
	if *flags.logLevel != "" {
		cfg.LogLevel = *flags.logLevel
	}
}

// createAndConfigureServer builds the fully wired gateway server
func createAndConfigureServer(cfg *config.Config) (api.MCPServer, error) {
	log.Info().
		Str("version", getVersion()).
		Str("transport", cfg.Transport).
		Msg("Starting mcp-guard")

	slogLogger := createSlogLogger(cfg.LogLevel)

	mcpServer, err := service.InitializeServer(slogLogger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	return mcpServer, nil
}

// createSlogLogger creates a structured logger for dependency injection.
// Both streams go to stderr; stdout belongs to the protocol when the
// transport is stdio.
func createSlogLogger(logLevel string) *slog.Logger {
	return logger.NewSlogLogger(logger.StderrOnlyConfig(parseSlogLevel(logLevel)))
}

// parseSlogLevel converts string log level to slog.Level
func parseSlogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// runServerWithShutdown runs the server with graceful shutdown handling
func runServerWithShutdown(mcpServer api.MCPServer) {
	ctx := context.Background()

	serverErr := make(chan error, 1)
	go func() {
		if err := mcpServer.Start(ctx); err != nil {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := mcpServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during server shutdown")
		}

		// Wait a moment for final logs to be written
		time.Sleep(100 * time.Millisecond)

	case err := <-serverErr:
		log.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}

// setupLogging configures structured logging
func setupLogging(level string) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
}

// getVersion returns the version information
func getVersion() string {
	if Version == "dev" {
		return fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
	}
	return fmt.Sprintf("v%s (commit: %s, built: %s)", Version, GitCommit, BuildTime)
}
