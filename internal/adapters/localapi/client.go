// Package localapi implements ports.Backend against the local JWT auth API.
package localapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var (
	_ ports.Backend        = (*Client)(nil)
	_ ports.SessionRevoker = (*Client)(nil)
)

// DefaultTimeout bounds every round trip to the API.
const DefaultTimeout = 20 * time.Second

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Config configures a Client.
type Config struct {
	BaseURL string
	Store   ports.TokenStore
	Timeout time.Duration
	// Client is optional; its own Timeout is left as is.
	Client *http.Client
	Logger *slog.Logger
	// Now overrides the clock; used by tests.
	Now func() time.Time
}

// Client talks to /api/auth/* and keeps the resulting session in the token store.
type Client struct {
	baseURL string
	store   ports.TokenStore
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("local api base url is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("token store is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		baseURL: baseURL,
		store:   cfg.Store,
		timeout: timeout,
		client:  hc,
		logger:  logger.With("component", "backend", "backend", "local"),
		now:     now,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt *time.Time      `json:"expiresAt"`
	User      domainauth.User `json:"user"`
}

type meResponse struct {
	User domainauth.User `json:"user"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Login posts credentials and stores the returned token before returning.
func (c *Client) Login(ctx context.Context, email, password string) (*domainauth.LoginResult, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode login request: %w", err)
	}

	var out loginResponse
	status, msg, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", body, &out)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return nil, invalidCredentials(msg)
	default:
		return nil, apperrors.Server(status, msg)
	}
	if out.Token == "" {
		return nil, apperrors.Server(status, "login response carried no token")
	}

	sess := domainauth.Session{AccessToken: out.Token, ExpiresAt: out.ExpiresAt}
	if err := c.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.logger.InfoContext(ctx, "logged in", "user_id", out.User.ID, "role", out.User.Role)
	return &domainauth.LoginResult{Session: sess, User: out.User}, nil
}

// Logout revokes the server session and clears the store whatever the outcome.
func (c *Client) Logout(ctx context.Context) error {
	sess, loadErr := c.store.Load(ctx)

	var remoteErr error
	if loadErr == nil && sess != nil {
		remoteErr = c.Revoke(ctx, *sess)
	}

	if err := c.store.Clear(ctx); err != nil {
		return errors.Join(remoteErr, fmt.Errorf("clear session: %w", err))
	}
	if loadErr != nil {
		return errors.Join(remoteErr, loadErr)
	}
	return remoteErr
}

// Revoke ends the server session behind sess. A token the server already rejects
// counts as revoked.
func (c *Client) Revoke(ctx context.Context, sess domainauth.Session) error {
	status, msg, err := c.do(ctx, http.MethodPost, "/api/auth/logout", sess.AccessToken, nil, nil)
	switch {
	case err != nil:
		return err
	case status >= 200 && status < 300, status == http.StatusUnauthorized:
		return nil
	default:
		return apperrors.Server(status, msg)
	}
}

// GetSession returns the stored session without a round trip.
func (c *Client) GetSession(ctx context.Context) (*domainauth.Session, error) {
	return c.store.Load(ctx)
}

// GetCurrentUser asks /api/auth/me who the stored token belongs to.
func (c *Client) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	sess, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(c.now()) {
		return nil, apperrors.Unauthorized("session has expired")
	}

	var out meResponse
	status, msg, err := c.do(ctx, http.MethodGet, "/api/auth/me", sess.AccessToken, nil, &out)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
		u := out.User
		return &u, nil
	case status == http.StatusUnauthorized:
		if msg == "" {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, apperrors.Unauthorized(msg)
	default:
		return nil, apperrors.Server(status, msg)
	}
}

// do performs one bounded round trip. Only transport failures are returned as err;
// any HTTP status is returned to the caller along with the server's error message.
func (c *Client) do(ctx context.Context, method, path, bearer string, body []byte, out any) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			if ctx.Err() != nil {
				return 0, "", transportError(ctx, err)
			}
			return 0, "", apperrors.Wrap(err, apperrors.ErrCodeServer, "malformed auth response")
		}
		return resp.StatusCode, "", nil
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, readErrorMessage(resp.Body), nil
}

func readErrorMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		return er.Error
	}
	return strings.TrimSpace(string(raw))
}

// transportError classifies a failed round trip. A caller cancellation stays a
// cancellation; everything else, including our own timeout, is a NetworkError.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "request canceled")
	}
	return apperrors.Wrap(err, apperrors.ErrCodeNetwork, apperrors.ErrNetwork.Message)
}

func invalidCredentials(msg string) error {
	if msg == "" {
		return apperrors.ErrInvalidCredentials
	}
	return &apperrors.AppError{Code: apperrors.ErrCodeInvalidCredentials, Message: msg}
}
