package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// AuthServiceOptions groups dependencies for AuthService.
type AuthServiceOptions struct {
	Users    ports.UserRepository
	Hasher   ports.PasswordHasher
	Tokens   ports.TokenIssuer
	Sessions ports.SessionStore
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// AuthService verifies credentials against stored hashes and manages server-side sessions
// backing the local JWT API.
type AuthService struct {
	users    ports.UserRepository
	hasher   ports.PasswordHasher
	tokens   ports.TokenIssuer
	sessions ports.SessionStore
	metrics  *metrics.Metrics
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService constructs a new AuthService.
func NewAuthService(opts AuthServiceOptions) (*AuthService, error) {
	if opts.Users == nil || opts.Hasher == nil || opts.Tokens == nil || opts.Sessions == nil {
		return nil, errors.New("auth service requires users, hasher, tokens and sessions")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:    opts.Users,
		hasher:   opts.Hasher,
		tokens:   opts.Tokens,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "auth_service"),
	}, nil
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      domainauth.User
}

// Login verifies email and password and issues an access token.
// Unknown emails and wrong passwords both yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (res *LoginResult, err error) {
	defer func() { s.metrics.ObserveLogin(err) }()

	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperrors.ErrInvalidCredentials
	}

	acc, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// Spend comparable time so unknown emails are not distinguishable by latency.
			s.burnVerify(password)
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(password, acc.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable", "user_id", acc.ID, "error", err)
		return nil, apperrors.ErrInvalidCredentials
	}
	if !ok {
		return nil, apperrors.ErrInvalidCredentials
	}

	s.maybeRehash(ctx, acc, password)

	issued, err := s.tokens.Issue(acc.User, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	if err := s.sessions.Save(ctx, domainauth.SessionRecord{
		ID:        issued.SessionID,
		UserID:    acc.ID,
		Role:      acc.Role,
		IssuedAt:  issued.IssuedAt,
		ExpiresAt: issued.ExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.logger.InfoContext(ctx, "user logged in", "user_id", acc.ID, "role", acc.Role)
	return &LoginResult{Token: issued.Token, ExpiresAt: issued.ExpiresAt, User: acc.User}, nil
}

// Authenticate resolves a bearer token to its user. The token must verify, its session must
// still exist, and the user must still exist. The current stored role wins over the token's.
func (s *AuthService) Authenticate(ctx context.Context, token string) (user *domainauth.User, claims ports.TokenClaims, err error) {
	defer func() { s.metrics.ObserveTokenCheck(err) }()

	if token == "" {
		return nil, ports.TokenClaims{}, apperrors.Unauthorized("missing bearer token")
	}

	claims, err = s.tokens.Parse(token)
	if err != nil {
		return nil, ports.TokenClaims{}, err
	}

	if _, err := s.sessions.Get(ctx, claims.SessionID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, ports.TokenClaims{}, apperrors.Unauthorized("session has been revoked")
		}
		return nil, ports.TokenClaims{}, fmt.Errorf("get session: %w", err)
	}

	acc, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, ports.TokenClaims{}, apperrors.Unauthorized("user no longer exists")
		}
		return nil, ports.TokenClaims{}, fmt.Errorf("get user: %w", err)
	}

	u := acc.User
	return &u, claims, nil
}

// Logout revokes the session behind token. Invalid or already revoked tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil
	}
	if err := s.sessions.Delete(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.metrics.AddSessionsRevoked(1)
	s.logger.InfoContext(ctx, "user logged out", "user_id", claims.UserID)
	return nil
}

func (s *AuthService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash(uuid.NewString())
		if err == nil {
			s.dummyHash = h
		}
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

func (s *AuthService) maybeRehash(ctx context.Context, acc *domainauth.Account, password string) {
	if !s.hasher.NeedsRehash(acc.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "rehash failed", "user_id", acc.ID, "error", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, acc.ID, hash); err != nil {
		s.logger.WarnContext(ctx, "storing rehashed password failed", "user_id", acc.ID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "password rehashed with current parameters", "user_id", acc.ID)
}
