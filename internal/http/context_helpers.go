package httpx

import (
	"context"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

// principalKey is an unexported context key type to avoid collisions across packages.
// Centralized in this file so all handlers/middleware use the same key.
type principalKey struct{}

// principal is what RequireAuth attaches to a request.
type principal struct {
	user  *domainauth.User
	token string
}

// SetUserInContext returns a child context that carries the authenticated user and the
// bearer token it was resolved from. If user is nil, the original ctx is returned unchanged.
func SetUserInContext(ctx context.Context, user *domainauth.User, token string) context.Context {
	if user == nil {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, principal{user: user, token: token})
}

// UserFromContext returns the authenticated user and a boolean indicating presence.
func UserFromContext(ctx context.Context) (*domainauth.User, bool) {
	if p, ok := ctx.Value(principalKey{}).(principal); ok {
		return p.user, true
	}
	return nil, false
}

// TokenFromContext returns the bearer token the request was authenticated with.
func TokenFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(principal); ok {
		return p.token
	}
	return ""
}
