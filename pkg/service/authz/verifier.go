// Package authz decides whether an authenticated caller may touch a
// resource. Decisions are default-deny: a resource without a rule is
// closed to everyone.
package authz

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	domainerrors "github.com/modelguard/mcp-guard/pkg/domain/errors"
	"github.com/modelguard/mcp-guard/pkg/domain/security"
)

const errorDomain = "authz"

// Verifier holds the authorization rules, keyed by resource name.
type Verifier struct {
	mu     sync.RWMutex
	rules  map[string]security.AuthorizationRule
	logger *slog.Logger
}

// NewVerifier creates an empty rule set.
func NewVerifier(logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		rules:  make(map[string]security.AuthorizationRule),
		logger: logger,
	}
}

// AddRule installs or replaces the rule for the rule's resource.
func (v *Verifier) AddRule(rule security.AuthorizationRule) error {
	if rule.Resource == "" {
		return domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "rule resource must not be empty", nil)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[rule.Resource] = rule
	return nil
}

// RemoveRule deletes the rule for a resource, reporting whether one
// existed.
func (v *Verifier) RemoveRule(resource string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.rules[resource]
	delete(v.rules, resource)
	return ok
}

// ClearRules drops every rule.
func (v *Verifier) ClearRules() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = make(map[string]security.AuthorizationRule)
}

// Rules returns a copy of the rule set, sorted by resource.
func (v *Verifier) Rules() []security.AuthorizationRule {
	v.mu.RLock()
	out := make([]security.AuthorizationRule, 0, len(v.rules))
	for _, rule := range v.rules {
		out = append(out, rule)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Resource < out[j].Resource })
	return out
}

// RuleFor returns the rule for a resource, if one is installed.
func (v *Verifier) RuleFor(resource string) (security.AuthorizationRule, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	rule, ok := v.rules[resource]
	return rule, ok
}

// Verify decides whether the caller may access the resource. The
// checks run in a fixed order: rule presence, then required scopes,
// then the rule's predicate. A nil error means access is granted.
func (v *Verifier) Verify(resource string, auth *security.AuthContext) error {
	if auth == nil {
		return domainerrors.New(domainerrors.CodeInvalidParameter, errorDomain, "auth context must not be nil", nil)
	}

	v.mu.RLock()
	rule, ok := v.rules[resource]
	v.mu.RUnlock()

	if !ok {
		v.logger.Debug("authorization denied", "resource", resource, "user_id", auth.UserID, "reason", "no rule")
		return domainerrors.New(domainerrors.CodeNoRuleForResource, errorDomain,
			fmt.Sprintf("no authorization rule for resource %q", resource), nil)
	}

	if missing := sets.New(rule.RequiredScopes...).Difference(auth.Scope); missing.Len() > 0 {
		missingList := strings.Join(sets.List(missing), ", ")
		v.logger.Debug("authorization denied", "resource", resource, "user_id", auth.UserID, "missing_scopes", missingList)
		return domainerrors.New(domainerrors.CodeMissingScopes, errorDomain,
			fmt.Sprintf("resource %q requires scopes: %s", resource, missingList), nil)
	}

	// The predicate runs outside the lock so a slow policy eval never
	// blocks rule maintenance.
	if rule.Predicate != nil && !rule.Predicate(auth) {
		v.logger.Debug("authorization denied", "resource", resource, "user_id", auth.UserID, "reason", "predicate")
		return domainerrors.New(domainerrors.CodePredicateDenied, errorDomain,
			fmt.Sprintf("access to resource %q denied by policy", resource), nil)
	}

	return nil
}

// HasScope reports whether the caller holds a scope.
func HasScope(auth *security.AuthContext, scope string) bool {
	if auth == nil {
		return false
	}
	return auth.Scope.Has(scope)
}

// HasAllScopes reports whether the caller holds every listed scope.
// An empty list is always satisfied.
func HasAllScopes(auth *security.AuthContext, scopes ...string) bool {
	if auth == nil {
		return len(scopes) == 0
	}
	return auth.Scope.HasAll(scopes...)
}

// HasAnyScope reports whether the caller holds at least one listed
// scope. An empty list is never satisfied.
func HasAnyScope(auth *security.AuthContext, scopes ...string) bool {
	if auth == nil {
		return false
	}
	return auth.Scope.HasAny(scopes...)
}
