package auth

import "context"

// Principal captures the identity bound to a request after the SSO assertion
// has been reconciled and the user row resolved.
type Principal struct {
	// UserID references the backing users row.
	UserID string
	// Username is the proxy-asserted username the request was verified against.
	Username string
	// Email is optional and mirrors the proxy-supplied profile.
	Email string
	// IsStaff grants access to the operator surfaces.
	IsStaff bool
	// IsSuperuser implies IsStaff and unrestricted access.
	IsSuperuser bool
	// SessionID references the active session row.
	SessionID string
}

// Role returns the Casbin role identifier for the principal.
func (p Principal) Role() string {
	switch {
	case p.IsSuperuser:
		return RoleAdmin
	case p.IsStaff:
		return RoleStaff
	default:
		return RoleUser
	}
}

type principalContextKey struct{}

// SetPrincipal stores the authenticated principal on the context for
// downstream consumers.
func SetPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// GetPrincipal retrieves the authenticated principal from the context. The
// second return is false for anonymous requests.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(Principal)
	return principal, ok
}
