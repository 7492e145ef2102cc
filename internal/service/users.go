package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// MinPasswordLen is the shortest password accepted for new or changed credentials.
const MinPasswordLen = 8

const maxListLimit = 200

// UserServiceOptions groups dependencies for UserService.
type UserServiceOptions struct {
	Users  ports.UserRepository
	Hasher ports.PasswordHasher
	// Revoker is optional; when set, role and password changes end the user's sessions.
	Revoker ports.UserSessionRevoker
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// UserService manages accounts in the users table.
type UserService struct {
	users   ports.UserRepository
	hasher  ports.PasswordHasher
	revoker ports.UserSessionRevoker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewUserService constructs a new UserService.
func NewUserService(opts UserServiceOptions) (*UserService, error) {
	if opts.Users == nil || opts.Hasher == nil {
		return nil, errors.New("user service requires users and hasher")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		users:   opts.Users,
		hasher:  opts.Hasher,
		revoker: opts.Revoker,
		metrics: opts.Metrics,
		logger:  logger.With("component", "user_service"),
	}, nil
}

// CreateUserRequest is the input to Create.
type CreateUserRequest struct {
	Email     string          `json:"email"`
	Password  string          `json:"password"`
	Role      domainauth.Role `json:"role"`
	FirstName string          `json:"firstName"`
	LastName  string          `json:"lastName"`
}

// Validate checks the request fields.
func (r CreateUserRequest) Validate() error {
	if _, err := mail.ParseAddress(strings.TrimSpace(r.Email)); err != nil {
		return apperrors.ValidationField("email", "email must be a valid address")
	}
	if len(r.Password) < MinPasswordLen {
		return apperrors.ValidationField("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}
	if !r.Role.Valid() {
		return apperrors.ValidationField("role", "role must be one of: Administrator, Manager, Staff, Operator")
	}
	return nil
}

// Create validates, hashes the password and stores a new user.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*domainauth.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.users.Create(ctx, ports.CreateUserInput{
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: hash,
		Role:         req.Role,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// List returns a page of users. limit is clamped to [1, 200].
func (s *UserService) List(ctx context.Context, limit, offset int) ([]domainauth.User, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// SetRole changes a user's role and revokes their sessions so the new role applies at once.
func (s *UserService) SetRole(ctx context.Context, userID string, role domainauth.Role) error {
	if !role.Valid() {
		return apperrors.ValidationField("role", "role must be one of: Administrator, Manager, Staff, Operator")
	}
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user role changed", "user_id", userID, "role", role)
	s.revokeAll(ctx, userID)
	return nil
}

// SetPassword replaces a user's password and revokes their sessions.
func (s *UserService) SetPassword(ctx context.Context, userID, password string) error {
	if len(password) < MinPasswordLen {
		return apperrors.ValidationField("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "user password changed", "user_id", userID)
	s.revokeAll(ctx, userID)
	return nil
}

func (s *UserService) revokeAll(ctx context.Context, userID string) {
	if s.revoker == nil {
		return
	}
	n, err := s.revoker.DeleteAllForUser(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to revoke user sessions", "user_id", userID, "error", err)
		return
	}
	s.metrics.AddSessionsRevoked(n)
}
