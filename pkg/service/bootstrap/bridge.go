package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// bridgeHandler adapts one gateway tool to the mcp-go handler shape.
// The bearer token is read from the _token argument first, then from
// the transport-provided context; it is stripped before the remaining
// arguments reach the pipeline.
func (b *Bootstrapper) bridgeHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw := req.GetArguments()
		arguments := make(map[string]interface{}, len(raw))
		for key, value := range raw {
			arguments[key] = value
		}

		token, _ := arguments[security.TokenParam].(string)
		delete(arguments, security.TokenParam)
		if token == "" {
			if headerToken, ok := TokenFromContext(ctx); ok {
				token = headerToken
			}
		}

		resp := b.gateway.HandleCallTool(ctx, &security.Request{
			Method: "tools/call",
			Params: map[string]interface{}{
				"name":              name,
				security.TokenParam: token,
				"arguments":         arguments,
			},
		})
		return renderResponse(resp), nil
	}
}

// renderResponse converts a gateway response into MCP content. Errors
// are serialized with their stable code so clients can branch on them.
func renderResponse(resp *security.Response) *mcp.CallToolResult {
	if resp == nil {
		return mcp.NewToolResultError("empty response from gateway")
	}
	if resp.Error != nil {
		payload, err := json.Marshal(resp.Error)
		if err != nil {
			return mcp.NewToolResultError(resp.Error.Message)
		}
		return mcp.NewToolResultError(string(payload))
	}
	if text, ok := resp.Result.(string); ok {
		return mcp.NewToolResultText(text)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(payload))
}

// toolInputSchema converts the gateway's schema map into the mcp-go
// schema struct.
func toolInputSchema(schema map[string]interface{}) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}
	if schema == nil {
		return out
	}
	if typ, ok := schema["type"].(string); ok && typ != "" {
		out.Type = typ
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = props
	}
	switch required := schema["required"].(type) {
	case []string:
		out.Required = required
	case []interface{}:
		for _, entry := range required {
			if name, ok := entry.(string); ok {
				out.Required = append(out.Required, name)
			}
		}
	}
	return out
}
