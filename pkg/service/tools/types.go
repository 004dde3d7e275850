// Package tools ships the built-in tool set served by the gateway: a
// small per-user task tracker, credential helpers backed by the vault,
// and the ping/server_status diagnostic pair.
package tools

import (
	"log/slog"
	"time"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// Registry is the surface the tool set registers against.
type Registry interface {
	RegisterTool(def *security.ToolDefinition) error
}

// Dependencies carries what the built-in handlers need. Credential
// tools use the vault from the per-call SecurityContext and need
// nothing here.
type Dependencies struct {
	// Tasks backs the task tracker tools
	Tasks *TaskStore
	// Logger receives handler diagnostics
	Logger *slog.Logger
	// ServerName and ServerVersion are reported by server_status
	ServerName    string
	ServerVersion string
	// StartedAt anchors the uptime reported by server_status
	StartedAt time.Time
	// ActiveSessions reports the live session count, when available
	ActiveSessions func() int
}

// ParamSpec describes one tool argument for the generated schema.
type ParamSpec struct {
	Type        string
	Description string
}

// ToolConfig declares one tool: its schema, its scopes, and the
// handler constructor. All built-in tools live in a single table.
type ToolConfig struct {
	Name           string
	Description    string
	RequiredScopes []string
	RequiredParams []string
	Params         map[string]ParamSpec

	// NeedsTasks marks tools that cannot register without a TaskStore
	NeedsTasks bool

	Handler func(deps Dependencies) security.ToolHandler
}

// Task is one entry in the per-user task tracker.
type Task struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Title       string     `json:"title"`
	Done        bool       `json:"done"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
