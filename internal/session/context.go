package session

import (
	"context"
	"errors"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

// ErrNoProvider is returned when no Auth was installed in the context.
var ErrNoProvider = errors.New("session: no auth provider in context")

// Auth is the read and act surface consumers get from the context.
type Auth interface {
	Snapshot() Snapshot
	User() *domainauth.User
	Session() *domainauth.Session
	Loading() bool
	Err() error
	IsAuthenticated() bool
	HasRole(roles ...domainauth.Role) bool
	Login(ctx context.Context, email, password string) (*domainauth.User, error)
	Logout(ctx context.Context)
}

var _ Auth = (*Manager)(nil)

type ctxKey struct{}

// WithAuth returns a child context carrying a.
func WithAuth(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the Auth installed by WithAuth, or ErrNoProvider.
func FromContext(ctx context.Context) (Auth, error) {
	a, ok := ctx.Value(ctxKey{}).(Auth)
	if !ok || a == nil {
		return nil, ErrNoProvider
	}
	return a, nil
}

// MustFromContext is FromContext for call sites where a missing provider is a wiring bug.
func MustFromContext(ctx context.Context) Auth {
	a, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return a
}
