package auth

import (
	"net/http"
	"strings"
)

// Rule maps a route to the minimum role it needs. An empty Method matches
// any method; Prefix matches Path as a path prefix.
type Rule struct {
	Method string
	Path   string
	Prefix bool
	Role   Role
}

func (r Rule) matches(req *http.Request) bool {
	if r.Method != "" && r.Method != req.Method {
		return false
	}
	if r.Prefix {
		return strings.HasPrefix(req.URL.Path, r.Path)
	}
	return req.URL.Path == r.Path
}

// DefaultRules covers the alarm engine API. First match wins.
func DefaultRules() []Rule {
	return []Rule{
		{Method: http.MethodPost, Path: "/api/v1/readings/evaluate", Role: RoleService},
		{Method: http.MethodPost, Path: "/api/v1/alarm-events/", Prefix: true, Role: RoleOperator},
		{Method: http.MethodGet, Path: "/api/v1/units/", Prefix: true, Role: RoleViewer},
		{Method: http.MethodGet, Path: "/api/v1/alarms/stream", Role: RoleViewer},
	}
}

// Policy decides which requests need a token and which role.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	Rules          []Rule
}

// NewDefaultPolicy builds a policy over DefaultRules with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: DefaultRules()}
}

// IsExempt returns true when a request skips auth entirely.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the role for r. Unlisted /api/ routes need viewer
// for safe methods and operator otherwise; anything else is open.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	for _, rule := range p.Rules {
		if rule.matches(r) {
			return rule.Role, true
		}
	}
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
