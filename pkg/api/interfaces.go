// Package api holds the interfaces that cross the service boundary.
package api

import (
	"context"
)

// MCPServer is a runnable MCP server: Start blocks serving the
// configured transport, Stop shuts it down and releases its resources.
type MCPServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
