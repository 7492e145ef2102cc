// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.
package auth

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.Backend            = (*StubBackend)(nil)
	_ ports.SessionStore       = (*MemorySessionStore)(nil)
	_ ports.UserSessionRevoker = (*MemorySessionStore)(nil)
	_ ports.UserRepository     = (*MemoryUserRepo)(nil)
	_ ports.RoleMapper         = (*StaticRoleMapper)(nil)
)

// StubBackend is a ports.Backend whose behavior is set per test through func fields.
// Unset funcs return zero values.
type StubBackend struct {
	LoginFunc          func(ctx context.Context, email, password string) (*domainauth.LoginResult, error)
	LogoutFunc         func(ctx context.Context) error
	GetSessionFunc     func(ctx context.Context) (*domainauth.Session, error)
	GetCurrentUserFunc func(ctx context.Context) (*domainauth.User, error)
}

func (b *StubBackend) Login(ctx context.Context, email, password string) (*domainauth.LoginResult, error) {
	if b.LoginFunc != nil {
		return b.LoginFunc(ctx, email, password)
	}
	return nil, apperrors.ErrInvalidCredentials
}

func (b *StubBackend) Logout(ctx context.Context) error {
	if b.LogoutFunc != nil {
		return b.LogoutFunc(ctx)
	}
	return nil
}

func (b *StubBackend) GetSession(ctx context.Context) (*domainauth.Session, error) {
	if b.GetSessionFunc != nil {
		return b.GetSessionFunc(ctx)
	}
	return nil, nil
}

func (b *StubBackend) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	if b.GetCurrentUserFunc != nil {
		return b.GetCurrentUserFunc(ctx)
	}
	return nil, nil
}

// MemorySessionStore is an in-memory server-side session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.SessionRecord
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.SessionRecord)}
}

func (m *MemorySessionStore) Save(_ context.Context, rec domainauth.SessionRecord) error {
	if rec.ID == "" {
		return apperrors.Validation("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.ID] = rec
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok || !time.Now().Before(rec.ExpiresAt) {
		return domainauth.SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemorySessionStore) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, rec := range m.sessions {
		if rec.UserID == userID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len reports how many sessions are stored.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ErrNotFound is returned by mocks when an entity is not present.
var ErrNotFound = apperrors.NotFound("not found")

// MemoryUserRepo is an in-memory users table.
type MemoryUserRepo struct {
	mu     sync.Mutex
	byID   map[string]domainauth.Account
	nextID int

	// UpdatePasswordCalls counts UpdatePasswordHash invocations.
	UpdatePasswordCalls int
}

// NewMemoryUserRepo creates a repository seeded with accounts.
func NewMemoryUserRepo(accounts ...domainauth.Account) *MemoryUserRepo {
	r := &MemoryUserRepo{byID: make(map[string]domainauth.Account)}
	for _, a := range accounts {
		r.byID[a.ID] = a
	}
	return r
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (*domainauth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range r.byID {
		if strings.EqualFold(a.Email, email) {
			acc := a
			return &acc, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (*domainauth.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryUserRepo) Create(_ context.Context, in ports.CreateUserInput) (*domainauth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byID {
		if strings.EqualFold(a.Email, in.Email) {
			return nil, &apperrors.AppError{Code: apperrors.ErrCodeConflict, Message: "email exists", Field: "email"}
		}
	}
	r.nextID++
	acc := domainauth.Account{
		User: domainauth.User{
			ID:        "mem-" + strconv.Itoa(r.nextID),
			Email:     strings.ToLower(in.Email),
			Role:      in.Role,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			CreatedAt: time.Now().UTC(),
		},
		PasswordHash: in.PasswordHash,
	}
	r.byID[acc.ID] = acc
	u := acc.User
	return &u, nil
}

func (r *MemoryUserRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.UpdatePasswordCalls++
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordHash = hash
	r.byID[id] = a
	return nil
}

func (r *MemoryUserRepo) UpdateRole(_ context.Context, id string, role domainauth.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.Role = role
	r.byID[id] = a
	return nil
}

func (r *MemoryUserRepo) List(_ context.Context, limit, offset int) ([]domainauth.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domainauth.User, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, a.User)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if offset >= len(out) {
		return []domainauth.User{}, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// StaticRoleMapper reads the role from a single top-level claim.
type StaticRoleMapper struct {
	Claim   string
	Default domainauth.Role
}

func (m StaticRoleMapper) Map(claims map[string]any) (domainauth.Role, bool) {
	if s, ok := claims[m.Claim].(string); ok {
		if r, err := domainauth.ParseRole(s); err == nil {
			return r, true
		}
	}
	if m.Default != "" {
		return m.Default, true
	}
	return "", false
}
