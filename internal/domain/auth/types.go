package auth

// Package auth contains domain-level types for authentication and sessions.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
	"time"
)

// Role represents an application's authorization role.
// The string form is persisted in the users table and carried in JWT claims.
type Role string

const (
	RoleAdministrator Role = "Administrator"
	RoleManager       Role = "Manager"
	RoleStaff         Role = "Staff"
	RoleOperator      Role = "Operator"
)

// Roles lists every valid role, most privileged first.
func Roles() []Role {
	return []Role{RoleAdministrator, RoleManager, RoleStaff, RoleOperator}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleManager, RoleStaff, RoleOperator:
		return true
	}
	return false
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, r := range Roles() {
		if strings.EqualFold(string(r), s) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User is the authenticated principal as seen by the application.
// It is derived from a Session by asking the backend for the current user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Session is the credential bundle identifying an authenticated client.
// It is owned by the token store; everything else holds read-through copies.
type Session struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the session carries an expiry that has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s != nil && s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// SameToken reports whether two sessions carry the same access token.
// A nil session only matches another nil session.
func (s *Session) SameToken(other *Session) bool {
	if s == nil || other == nil {
		return s == nil && other == nil
	}
	return s.AccessToken == other.AccessToken
}

// LoginResult is what a successful login yields.
type LoginResult struct {
	Session Session
	User    User
}

// SessionRecord is the server-side record the local API keeps per issued token.
// Deleting it revokes the token before its JWT expiry.
type SessionRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Account pairs a user with the stored password hash. It never leaves the server.
type Account struct {
	User
	PasswordHash string `json:"-"`
}
