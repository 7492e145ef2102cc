package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/service"
)

// AuthServiceInterface defines the interface for auth service operations.
type AuthServiceInterface interface {
	Authenticator
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc    AuthServiceInterface
	Logger *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	User      domainauth.User `json:"user"`
}

type userResponse struct {
	User *domainauth.User `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// Login exchanges credentials for a bearer token.
// POST /api/auth/login {email,password} -> 200 {token, expiresAt, user}.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteAppError(w, apperrors.Validation("email and password are required"))
		return
	}

	res, err := h.Svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !apperrors.IsInvalidCredentials(err) {
			h.logger().ErrorContext(r.Context(), "login failed", "error", err)
		}
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, loginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: res.User})
}

// Logout revokes the server session behind the request's bearer token.
// POST /api/auth/logout -> 200 {success:true}.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Logout(r.Context(), TokenFromContext(r.Context())); err != nil {
		h.logger().ErrorContext(r.Context(), "logout failed", "error", err)
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

// Me returns the user behind the bearer token.
// GET /api/auth/me -> 200 {user}.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteAppError(w, apperrors.Unauthorized("authentication required"))
		return
	}
	WriteJSON(w, http.StatusOK, userResponse{User: user})
}
