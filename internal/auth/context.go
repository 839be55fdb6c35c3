package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	OrgID   string
	Role    Role
	Subject string
}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, orgID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{OrgID: orgID, Role: role, Subject: subject})
}

// IdentityFromContext returns the caller identity, false for anonymous calls.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// OrgIDFromContext returns the caller org, empty when anonymous.
func OrgIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.OrgID
}

// RoleFromContext returns the caller role, empty when anonymous.
func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

// SubjectFromContext returns the token subject, empty when anonymous.
func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}
