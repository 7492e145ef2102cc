// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service and internal/session.
package ports

import (
	"context"
	"time"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

// Backend is the client-side view of a remote authentication service.
// Exactly one implementation (hosted or local) is wired per build.
type Backend interface {
	// Login exchanges credentials for a session and persists it before returning.
	Login(ctx context.Context, email, password string) (*domainauth.LoginResult, error)

	// Logout invalidates the remote session when possible and always clears local storage.
	// A non-nil error reports a remote failure only; local state is already cleared.
	Logout(ctx context.Context) error

	// GetSession returns the stored session without contacting the backend, or nil.
	GetSession(ctx context.Context) (*domainauth.Session, error)

	// GetCurrentUser resolves the stored session to a user, or nil when nothing is stored.
	GetCurrentUser(ctx context.Context) (*domainauth.User, error)
}

// SessionRevoker is implemented by backends that can revoke one specific session
// remotely. Revoke never touches local storage.
type SessionRevoker interface {
	Revoke(ctx context.Context, sess domainauth.Session) error
}

// TokenStore persists the current session under a single key.
type TokenStore interface {
	Save(ctx context.Context, sess domainauth.Session) error
	// Load returns nil, nil when nothing is stored.
	Load(ctx context.Context) (*domainauth.Session, error)
	Clear(ctx context.Context) error
}

// StorageEvent reports a write to the token store key made by another writer.
// NewValue is nil when the key was cleared.
type StorageEvent struct {
	Key      string
	NewValue *domainauth.Session
}

// StorageEventSource delivers storage events for one key.
// The channel is closed once ctx is done.
type StorageEventSource interface {
	Subscribe(ctx context.Context) (<-chan StorageEvent, error)
}

// SessionStore persists server-side session records keyed by session id.
type SessionStore interface {
	Save(ctx context.Context, rec domainauth.SessionRecord) error
	Get(ctx context.Context, id string) (domainauth.SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

// RoleMapper maps provider claims to an application role.
// ok is false when no rule matched and no default is configured.
type RoleMapper interface {
	Map(claims map[string]any) (role domainauth.Role, ok bool)
}

// CreateUserInput carries the fields needed to insert a user.
type CreateUserInput struct {
	Email        string
	PasswordHash string
	Role         domainauth.Role
	FirstName    string
	LastName     string
}

// UserRepository is the persistence port over the users table.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*domainauth.Account, error)
	GetByID(ctx context.Context, id string) (*domainauth.Account, error)
	Create(ctx context.Context, in CreateUserInput) (*domainauth.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	UpdateRole(ctx context.Context, id string, role domainauth.Role) error
	List(ctx context.Context, limit, offset int) ([]domainauth.User, error)
}

// PasswordHasher hashes and verifies passwords in a self-describing encoded form.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	// NeedsRehash reports whether encoded was produced with weaker parameters than the current ones.
	NeedsRehash(encoded string) bool
}

// IssuedToken is a freshly signed access token.
type IssuedToken struct {
	Token     string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenClaims are the verified contents of an access token.
type TokenClaims struct {
	UserID    string
	Email     string
	Role      domainauth.Role
	SessionID string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer interface {
	Issue(user domainauth.User, sessionID string) (IssuedToken, error)
	Parse(token string) (TokenClaims, error)
}

// UserSessionRevoker removes every server-side session belonging to a user.
type UserSessionRevoker interface {
	DeleteAllForUser(ctx context.Context, userID string) (int, error)
}
