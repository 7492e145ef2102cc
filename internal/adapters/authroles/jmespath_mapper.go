// Package authroles maps identity provider claims to application roles.
package authroles

import (
	"fmt"
	"slices"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ ports.RoleMapper = (*JMESPathMapper)(nil)

// DefaultExpr reads a top-level "role" claim.
const DefaultExpr = "role"

// JMESPathMapper evaluates a JMESPath expression against the claims. The result may be
// a role name or a list of candidate names; from a list the most privileged valid role
// wins. Anything else falls back to Default.
type JMESPathMapper struct {
	expr    string
	Default domainauth.Role
}

// NewJMESPathMapper compiles expr once to reject syntax errors at startup.
// An empty expr selects DefaultExpr. def may be empty to mean "no fallback".
func NewJMESPathMapper(expr string, def domainauth.Role) (*JMESPathMapper, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultExpr
	}
	if _, err := jmespath.Compile(expr); err != nil {
		return nil, fmt.Errorf("invalid role expression %q: %w", expr, err)
	}
	if def != "" && !def.Valid() {
		return nil, fmt.Errorf("invalid default role %q", def)
	}
	return &JMESPathMapper{expr: expr, Default: def}, nil
}

// Expr returns the configured expression.
func (m *JMESPathMapper) Expr() string { return m.expr }

func (m *JMESPathMapper) Map(claims map[string]any) (domainauth.Role, bool) {
	res, err := jmespath.Search(m.expr, claims)
	if err == nil {
		if role, ok := pick(res); ok {
			return role, true
		}
	}
	if m.Default != "" {
		return m.Default, true
	}
	return "", false
}

func pick(v any) (domainauth.Role, bool) {
	switch val := v.(type) {
	case string:
		r, err := domainauth.ParseRole(val)
		return r, err == nil
	case []any:
		found := make([]domainauth.Role, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				if r, err := domainauth.ParseRole(s); err == nil {
					found = append(found, r)
				}
			}
		}
		for _, r := range domainauth.Roles() {
			if slices.Contains(found, r) {
				return r, true
			}
		}
	}
	return "", false
}
