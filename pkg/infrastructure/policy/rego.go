package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

// allowQuery is the decision every policy module must define.
const allowQuery = "data.mcpguard.authz.allow"

// CompilePredicate compiles a Rego module into an authorization
// predicate. The module must live in package mcpguard.authz and
// define an allow rule; the predicate input carries userId,
// sessionId, and the sorted scope list.
func CompilePredicate(ctx context.Context, resource, module string) (security.Predicate, error) {
	query, err := rego.New(
		rego.Query(allowQuery),
		rego.Module(resource+".rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeConfigurationInvalid, errorDomain,
			fmt.Sprintf("failed to compile policy for resource %s", resource), err)
	}

	return func(authCtx *security.AuthContext) bool {
		input := map[string]interface{}{
			"userId":    authCtx.UserID,
			"sessionId": authCtx.SessionID,
			"scope":     authCtx.ScopeList(),
		}
		results, err := query.Eval(context.Background(), rego.EvalInput(input))
		if err != nil {
			return false
		}
		return results.Allowed()
	}, nil
}
