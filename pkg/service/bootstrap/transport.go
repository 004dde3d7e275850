package bootstrap

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/modelguard/mcp-guard/pkg/service/config"
)

const httpShutdownTimeout = 10 * time.Second

type tokenContextKey struct{}

// WithToken returns a context carrying a bearer token for tool
// dispatch.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token attached by the transport.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// BearerTokenContextFunc lifts an Authorization: Bearer header into the
// request context so calls whose arguments omit the token parameter can
// still authenticate.
func BearerTokenContextFunc(ctx context.Context, r *http.Request) context.Context {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimPrefix(auth, "Bearer "); token != "" {
			return WithToken(ctx, token)
		}
	}
	return ctx
}

// Serve runs the configured transport until the context is cancelled or
// the transport stops on its own. Stdio logs go to stderr; stdout is
// the protocol channel.
func (b *Bootstrapper) Serve(ctx context.Context, mcpServer *server.MCPServer) error {
	if b.cfg.Transport == config.TransportHTTP {
		return b.serveHTTP(ctx, mcpServer)
	}
	return b.serveStdio(ctx, mcpServer)
}

func (b *Bootstrapper) serveStdio(ctx context.Context, mcpServer *server.MCPServer) error {
	b.logger.Info("Starting stdio transport")
	stdio := server.NewStdioServer(mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (b *Bootstrapper) serveHTTP(ctx context.Context, mcpServer *server.MCPServer) error {
	httpServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithHTTPContextFunc(BearerTokenContextFunc),
		server.WithStateLess(true),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(b.cfg.HTTPAddr)
	}()

	b.logger.Info("Starting http transport", "addr", b.cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
