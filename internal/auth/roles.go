package auth

import "strings"

// Role is a caller role carried in the token.
type Role string

const (
	// RoleViewer reads alarm catalogs and streams.
	RoleViewer Role = "viewer"
	// RoleOperator acknowledges and resolves alarm events.
	RoleOperator Role = "operator"
	// RoleService is the ingest pipeline submitting readings.
	RoleService Role = "service"
	RoleAdmin   Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleService:  3,
	RoleAdmin:    4,
}

// NormalizeRole parses a role claim case-insensitively.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// Satisfies reports whether r ranks at or above required.
func (r Role) Satisfies(required Role) bool {
	return roleRanks[r] >= roleRanks[required]
}

// RoleAtLeast returns true when role satisfies required.
func RoleAtLeast(role Role, required Role) bool {
	return role.Satisfies(required)
}
