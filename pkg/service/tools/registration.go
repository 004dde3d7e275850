package tools

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// All built-in tool configurations in a single table.
var toolConfigs = []ToolConfig{
	{
		Name:           "task_create",
		Description:    "Create a task in the caller's task list",
		RequiredScopes: []string{"tasks:write"},
		RequiredParams: []string{"title"},
		Params: map[string]ParamSpec{
			"title": {Type: "string", Description: "Short description of the task"},
		},
		NeedsTasks: true,
		Handler:    createTaskCreateHandler,
	},
	{
		Name:           "task_list",
		Description:    "List the caller's tasks in creation order",
		RequiredScopes: []string{"tasks:read"},
		NeedsTasks:     true,
		Handler:        createTaskListHandler,
	},
	{
		Name:           "task_complete",
		Description:    "Mark one of the caller's tasks as done",
		RequiredScopes: []string{"tasks:write"},
		RequiredParams: []string{"id"},
		Params: map[string]ParamSpec{
			"id": {Type: "string", Description: "Identifier of the task to complete"},
		},
		NeedsTasks: true,
		Handler:    createTaskCompleteHandler,
	},
	{
		Name:           "credential_store",
		Description:    "Store a secret for a named service in the caller's vault",
		RequiredScopes: []string{"credentials:write"},
		RequiredParams: []string{"service", "secret"},
		Params: map[string]ParamSpec{
			"service": {Type: "string", Description: "Service the secret belongs to"},
			"secret":  {Type: "string", Description: "The secret value to store"},
		},
		Handler: createCredentialStoreHandler,
	},
	{
		Name:           "credential_get",
		Description:    "Retrieve a previously stored secret for a named service",
		RequiredScopes: []string{"credentials:read"},
		RequiredParams: []string{"service"},
		Params: map[string]ParamSpec{
			"service": {Type: "string", Description: "Service the secret belongs to"},
		},
		Handler: createCredentialGetHandler,
	},
	{
		Name:        "ping",
		Description: "Test gateway connectivity",
		Handler:     createPingHandler,
	},
	{
		Name:        "server_status",
		Description: "Report gateway name, version, uptime, and session count",
		Handler:     createServerStatusHandler,
	},
}

// Configs returns the built-in tool table.
func Configs() []ToolConfig {
	return toolConfigs
}

// RegisterAll registers every built-in tool against the registry.
func RegisterAll(registry Registry, deps Dependencies) error {
	for _, config := range toolConfigs {
		if err := Register(registry, config, deps); err != nil {
			return errors.Wrapf(err, "failed to register tool %s", config.Name)
		}
	}
	return nil
}

// Register registers a single tool based on its configuration.
func Register(registry Registry, config ToolConfig, deps Dependencies) error {
	if err := validateDependencies(config, deps); err != nil {
		return errors.Wrapf(err, "invalid dependencies for tool %s", config.Name)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}

	def := &security.ToolDefinition{
		Name:           config.Name,
		Description:    config.Description,
		InputSchema:    BuildToolSchema(config),
		RequiredScopes: config.RequiredScopes,
		Handler:        withRequiredParams(config.RequiredParams, config.Handler(deps)),
	}

	if err := registry.RegisterTool(def); err != nil {
		return err
	}

	deps.Logger.Debug("tool registered", "name", config.Name, "scopes", config.RequiredScopes)
	return nil
}

// BuildToolSchema renders the JSON schema for a tool's arguments.
func BuildToolSchema(config ToolConfig) map[string]interface{} {
	properties := make(map[string]interface{}, len(config.Params))
	for name, spec := range config.Params {
		properties[name] = map[string]interface{}{
			"type":        spec.Type,
			"description": spec.Description,
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(config.RequiredParams) > 0 {
		schema["required"] = config.RequiredParams
	}
	return schema
}

func validateDependencies(config ToolConfig, deps Dependencies) error {
	if config.Handler == nil {
		return errors.New("handler constructor is required")
	}
	if config.NeedsTasks && deps.Tasks == nil {
		return errors.New("task store is required but not provided")
	}
	return nil
}

// withRequiredParams rejects calls missing a declared parameter before
// the handler runs.
func withRequiredParams(required []string, handler security.ToolHandler) security.ToolHandler {
	if len(required) == 0 {
		return handler
	}
	return func(ctx context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		for _, name := range required {
			if _, ok := params[name]; !ok {
				return nil, errors.Errorf("missing required parameter: %s", name)
			}
		}
		return handler(ctx, params, sec)
	}
}
