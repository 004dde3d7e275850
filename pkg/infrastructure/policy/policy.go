// Package policy loads authorization rules from declarative policy
// files. Scope requirements are expressed directly; richer conditions
// are written as embedded Rego modules evaluated per request.
package policy

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const errorDomain = "policy"

// RuleSpec is one rule in a policy document.
type RuleSpec struct {
	// Resource names the protected resource, typically a tool name
	Resource string `json:"resource"`
	// RequiredScopes lists scopes the caller must all hold
	RequiredScopes []string `json:"requiredScopes,omitempty"`
	// Rego optionally embeds a module whose data.mcpguard.authz.allow
	// decision gates the resource in addition to the scopes
	Rego string `json:"rego,omitempty"`
}

// Document is a parsed policy file.
type Document struct {
	Rules []RuleSpec `json:"rules"`
}

// LoadFile reads and parses a policy document. The file is YAML (or
// JSON, which is valid YAML).
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domainerrors.New(domainerrors.CodeIoError, errorDomain, fmt.Sprintf("failed to read policy file %s", path), err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domainerrors.New(domainerrors.CodeConfigurationInvalid, errorDomain, fmt.Sprintf("failed to parse policy file %s", path), err)
	}

	for i, rule := range doc.Rules {
		if rule.Resource == "" {
			return nil, domainerrors.New(domainerrors.CodeConfigurationInvalid, errorDomain, fmt.Sprintf("policy rule %d has no resource", i), nil)
		}
	}
	return &doc, nil
}

// Build compiles the document into authorization rules. Rego modules
// are compiled once here; evaluation happens per request.
func (d *Document) Build(ctx context.Context) ([]security.AuthorizationRule, error) {
	rules := make([]security.AuthorizationRule, 0, len(d.Rules))
	for _, spec := range d.Rules {
		rule := security.AuthorizationRule{
			Resource:       spec.Resource,
			RequiredScopes: spec.RequiredScopes,
		}
		if spec.Rego != "" {
			predicate, err := CompilePredicate(ctx, spec.Resource, spec.Rego)
			if err != nil {
				return nil, err
			}
			rule.Predicate = predicate
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
