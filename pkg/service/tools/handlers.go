package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// credentialKey is the vault namespace convention: secrets are stored
// per user and service so one user can never read another's entries.
func credentialKey(userID, service string) string {
	return fmt.Sprintf("%s:%s", userID, service)
}

func stringParam(params map[string]interface{}, name string) (string, error) {
	raw, ok := params[name]
	if !ok {
		return "", errors.Errorf("missing required parameter: %s", name)
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.Errorf("parameter %s must be a string", name)
	}
	if value == "" {
		return "", errors.Errorf("parameter %s must not be empty", name)
	}
	return value, nil
}

func createTaskCreateHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		title, err := stringParam(params, "title")
		if err != nil {
			return nil, err
		}

		task, err := deps.Tasks.Create(sec.Auth.UserID, title)
		if err != nil {
			return nil, err
		}

		deps.Logger.Debug("task created", "task_id", task.ID, "owner", task.Owner)
		return task, nil
	}
}

func createTaskListHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, _ map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		tasks := deps.Tasks.List(sec.Auth.UserID)
		return map[string]interface{}{
			"tasks": tasks,
			"count": len(tasks),
		}, nil
	}
}

func createTaskCompleteHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		id, err := stringParam(params, "id")
		if err != nil {
			return nil, err
		}

		task, err := deps.Tasks.Complete(sec.Auth.UserID, id)
		if err != nil {
			return nil, err
		}

		deps.Logger.Debug("task completed", "task_id", task.ID, "owner", task.Owner)
		return task, nil
	}
}

func createCredentialStoreHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		service, err := stringParam(params, "service")
		if err != nil {
			return nil, err
		}
		secret, err := stringParam(params, "secret")
		if err != nil {
			return nil, err
		}

		if err := sec.Vault.Store(credentialKey(sec.Auth.UserID, service), secret); err != nil {
			return nil, err
		}

		deps.Logger.Debug("credential stored", "service", service, "user_id", sec.Auth.UserID)
		// The secret is never echoed back.
		return map[string]interface{}{
			"stored":  true,
			"service": service,
		}, nil
	}
}

func createCredentialGetHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, params map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		service, err := stringParam(params, "service")
		if err != nil {
			return nil, err
		}

		secret, err := sec.Vault.Retrieve(credentialKey(sec.Auth.UserID, service))
		if err != nil {
			return nil, err
		}

		return map[string]interface{}{
			"service": service,
			"secret":  secret,
		}, nil
	}
}

func createPingHandler(Dependencies) security.ToolHandler {
	return func(context.Context, map[string]interface{}, *security.SecurityContext) (interface{}, error) {
		return map[string]interface{}{
			"status":  "ok",
			"message": "pong",
		}, nil
	}
}

func createServerStatusHandler(deps Dependencies) security.ToolHandler {
	return func(_ context.Context, _ map[string]interface{}, sec *security.SecurityContext) (interface{}, error) {
		status := map[string]interface{}{
			"name":    deps.ServerName,
			"version": deps.ServerVersion,
			"uptime":  time.Since(deps.StartedAt).Round(time.Second).String(),
			"user":    sec.Auth.UserID,
		}
		if deps.ActiveSessions != nil {
			status["active_sessions"] = deps.ActiveSessions()
		}
		return status, nil
	}
}
