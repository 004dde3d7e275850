// Package logger builds the structured loggers injected into the
// gateway services. Serving MCP over stdio reserves stdout for the
// protocol stream, so callers route both log writers to stderr in
// that mode; the level-aware writer split is for HTTP serving and
// operator tooling.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// SlogConfig holds configuration for structured logging
type SlogConfig struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool
	Stdout    io.Writer
	Stderr    io.Writer
}

// DefaultSlogConfig returns a sensible default configuration
func DefaultSlogConfig() SlogConfig {
	return SlogConfig{
		Level:     slog.LevelInfo,
		Format:    "text",
		AddSource: false,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

// StderrOnlyConfig returns a configuration that keeps every log line
// off stdout. Required whenever the process serves MCP over stdio.
func StderrOnlyConfig(level slog.Level) SlogConfig {
	cfg := DefaultSlogConfig()
	cfg.Level = level
	cfg.Stdout = os.Stderr
	return cfg
}

// NewSlogLogger creates a new structured logger with level-based output routing
func NewSlogLogger(config SlogConfig) *slog.Logger {
	writer := &LevelAwareWriter{
		Stdout: config.Stdout,
		Stderr: config.Stderr,
	}

	opts := &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler)
}

// LevelAwareWriter routes log messages to stdout or stderr based on level
type LevelAwareWriter struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (w *LevelAwareWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	if containsLogLevel(msg, "WARN", "ERROR") {
		return w.Stderr.Write(p)
	}
	return w.Stdout.Write(p)
}

// containsLogLevel checks if the message contains any of the specified log levels
func containsLogLevel(msg string, levels ...string) bool {
	for _, level := range levels {
		// Covers both the slog text format and the JSON format.
		if strings.Contains(msg, "level="+level) ||
			strings.Contains(msg, `"level":"`+level+`"`) {
			return true
		}
	}
	return false
}
