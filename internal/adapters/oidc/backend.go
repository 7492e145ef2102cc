package oidc

// Package oidc implements ports.Backend against a hosted OpenID Connect provider using the
// OAuth2 resource owner password grant.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var (
	_ ports.Backend        = (*Backend)(nil)
	_ ports.SessionRevoker = (*Backend)(nil)
)

const defaultTimeout = 20 * time.Second

// Config holds configuration for the hosted backend.
// When TokenURL and UserInfoURL are both set, discovery is skipped.
type Config struct {
	IssuerURL     string
	TokenURL      string
	UserInfoURL   string
	RevocationURL string
	ClientID      string
	ClientSecret  string
	Scopes        []string

	Roles ports.RoleMapper
	Store ports.TokenStore

	Timeout    time.Duration
	HTTPClient *http.Client // Optional, defaults to a plain http.Client
	Logger     *slog.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Backend implements ports.Backend using OIDC/OAuth2.
type Backend struct {
	config        *oauth2.Config
	userInfoURL   string
	revocationURL string

	roles      ports.RoleMapper
	store      ports.TokenStore
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// discoveryExtras are provider metadata fields go-oidc does not surface directly.
type discoveryExtras struct {
	RevocationEndpoint string `json:"revocation_endpoint"`
}

// NewBackend resolves the provider endpoints and returns a Backend. Discovery runs once,
// bounded by cfg.Timeout.
func NewBackend(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	if cfg.Roles == nil {
		return nil, errors.New("role mapper is required")
	}
	issuer := strings.TrimSuffix(strings.TrimSpace(cfg.IssuerURL), "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")

	b := &Backend{
		roles:         cfg.Roles,
		store:         cfg.Store,
		timeout:       cfg.Timeout,
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
		now:           cfg.Now,
		revocationURL: cfg.RevocationURL,
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "backend", "backend", "hosted")
	if b.now == nil {
		b.now = time.Now
	}

	var op *gooidc.Provider
	if cfg.TokenURL != "" && cfg.UserInfoURL != "" {
		op = (&gooidc.ProviderConfig{
			IssuerURL:   issuer,
			TokenURL:    cfg.TokenURL,
			UserInfoURL: cfg.UserInfoURL,
		}).NewProvider(ctx)
	} else {
		if issuer == "" {
			return nil, errors.New("issuer URL is required when endpoints are not configured")
		}
		dctx, cancel := context.WithTimeout(b.clientContext(ctx), b.timeout)
		defer cancel()
		var err error
		op, err = gooidc.NewProvider(dctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc new provider: %w", err)
		}
		if b.revocationURL == "" {
			var extras discoveryExtras
			if err := op.Claims(&extras); err == nil {
				b.revocationURL = extras.RevocationEndpoint
			}
		}
	}

	b.userInfoURL = op.UserInfoEndpoint()
	if b.userInfoURL == "" {
		return nil, errors.New("provider has no userinfo endpoint")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email", gooidc.ScopeOfflineAccess}
	}
	b.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       scopes,
		Endpoint:     op.Endpoint(),
	}
	return b, nil
}

// Login runs the password grant, stores the tokens, then resolves the user.
// The store is cleared again if the user cannot be resolved.
func (b *Backend) Login(ctx context.Context, email, password string) (*domainauth.LoginResult, error) {
	tctx, cancel := b.bounded(ctx)
	defer cancel()

	tok, err := b.config.PasswordCredentialsToken(tctx, email, password)
	if err != nil {
		return nil, b.classifyGrantError(tctx, err, apperrors.ErrInvalidCredentials)
	}

	sess := sessionFromToken(tok)
	if err := b.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	user, err := b.fetchUser(tctx, tok.AccessToken)
	if err != nil {
		if clearErr := b.store.Clear(ctx); clearErr != nil {
			b.logger.WarnContext(ctx, "clear session after failed login", "error", clearErr)
		}
		return nil, err
	}
	b.logger.InfoContext(ctx, "logged in", "user_id", user.ID, "role", user.Role)
	return &domainauth.LoginResult{Session: sess, User: *user}, nil
}

// Logout revokes the refresh token (or the access token when there is none) when the
// provider exposes a revocation endpoint. The store is always cleared.
func (b *Backend) Logout(ctx context.Context) error {
	sess, loadErr := b.store.Load(ctx)

	var remoteErr error
	if loadErr == nil && sess != nil {
		remoteErr = b.Revoke(ctx, *sess)
	}

	if err := b.store.Clear(ctx); err != nil {
		return errors.Join(remoteErr, fmt.Errorf("clear session: %w", err))
	}
	if loadErr != nil {
		return errors.Join(remoteErr, loadErr)
	}
	return remoteErr
}

// GetSession returns the stored session without contacting the provider.
func (b *Backend) GetSession(ctx context.Context) (*domainauth.Session, error) {
	return b.store.Load(ctx)
}

// GetCurrentUser refreshes the access token if it has expired, persists any refreshed
// session, and asks the userinfo endpoint who the token belongs to.
func (b *Backend) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	sess, err := b.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(b.now()) && sess.RefreshToken == "" {
		return nil, apperrors.Unauthorized("session has expired")
	}

	tctx, cancel := b.bounded(ctx)
	defer cancel()

	tok, err := b.config.TokenSource(tctx, tokenFromSession(sess)).Token()
	if err != nil {
		return nil, b.classifyGrantError(tctx, err, apperrors.ErrUnauthorized)
	}
	if tok.AccessToken != sess.AccessToken {
		refreshed := sessionFromToken(tok)
		if err := b.store.Save(ctx, refreshed); err != nil {
			return nil, fmt.Errorf("store refreshed session: %w", err)
		}
		b.logger.InfoContext(ctx, "access token refreshed")
	}
	return b.fetchUser(tctx, tok.AccessToken)
}

// userInfo is the subset of standard claims copied onto a User.
type userInfo struct {
	Subject    string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Name       string `json:"name"`
}

func (b *Backend) fetchUser(ctx context.Context, accessToken string) (*domainauth.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(ctx, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.Unauthorized("provider rejected the access token")
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Server(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeServer, "malformed userinfo response")
	}
	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeServer, "malformed userinfo response")
	}
	return mapUser(info, claims, b.roles)
}

// mapUser builds a User from userinfo claims. A user without a resolvable role is refused.
func mapUser(info userInfo, claims map[string]any, roles ports.RoleMapper) (*domainauth.User, error) {
	if info.Subject == "" {
		return nil, apperrors.Server(http.StatusOK, "userinfo response has no subject")
	}
	role, ok := roles.Map(claims)
	if !ok {
		return nil, &apperrors.AppError{Code: apperrors.ErrCodeForbidden, Message: "account has no MRP role"}
	}
	first, last := info.GivenName, info.FamilyName
	if first == "" && last == "" && info.Name != "" {
		first, last, _ = strings.Cut(info.Name, " ")
	}
	return &domainauth.User{
		ID:        info.Subject,
		Email:     strings.ToLower(info.Email),
		Role:      role,
		FirstName: first,
		LastName:  last,
	}, nil
}

// Revoke posts the session's refresh token (or access token) to the provider's
// revocation endpoint. Without a configured endpoint it does nothing.
func (b *Backend) Revoke(ctx context.Context, sess domainauth.Session) error {
	if b.revocationURL == "" {
		return nil
	}
	form := url.Values{}
	if sess.RefreshToken != "" {
		form.Set("token", sess.RefreshToken)
		form.Set("token_type_hint", "refresh_token")
	} else {
		form.Set("token", sess.AccessToken)
		form.Set("token_type_hint", "access_token")
	}

	tctx, cancel := b.bounded(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(tctx, http.MethodPost, b.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create revocation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(b.config.ClientID), url.QueryEscape(b.config.ClientSecret))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return transportError(tctx, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return apperrors.Server(resp.StatusCode, "token revocation failed")
	}
	return nil
}

// bounded applies the call timeout and hands oauth2 our HTTP client.
func (b *Backend) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(b.clientContext(ctx), b.timeout)
}

func (b *Backend) clientContext(ctx context.Context) context.Context {
	return gooidc.ClientContext(ctx, b.httpClient)
}

// classifyGrantError maps token endpoint failures. rejected is returned when the
// provider refused the grant itself.
func (b *Backend) classifyGrantError(ctx context.Context, err error, rejected *apperrors.AppError) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		switch {
		case re.ErrorCode == "invalid_grant", status == http.StatusBadRequest, status == http.StatusUnauthorized:
			msg := re.ErrorDescription
			if msg == "" {
				return rejected
			}
			return &apperrors.AppError{Code: rejected.Code, Message: msg, Cause: err}
		default:
			return apperrors.Wrap(err, apperrors.ErrCodeServer, fmt.Sprintf("token endpoint returned %d", status))
		}
	}
	return transportError(ctx, err)
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "request canceled")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeNetwork, "identity provider unreachable")
}

func sessionFromToken(tok *oauth2.Token) domainauth.Session {
	s := domainauth.Session{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		s.ExpiresAt = &exp
	}
	return s
}

func tokenFromSession(s *domainauth.Session) *oauth2.Token {
	tok := &oauth2.Token{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, TokenType: "Bearer"}
	if s.ExpiresAt != nil {
		tok.Expiry = *s.ExpiresAt
	}
	return tok
}
