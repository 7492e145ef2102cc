package httpx

import (
	"context"
	"log/slog"
	"net/http"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/service"
)

const (
	defaultUserListLimit = 50
	maxUserListLimit     = 200
)

// UserServiceInterface defines the user management operations exposed over HTTP.
type UserServiceInterface interface {
	Create(ctx context.Context, req service.CreateUserRequest) (*domainauth.User, error)
	List(ctx context.Context, limit, offset int) ([]domainauth.User, error)
	SetRole(ctx context.Context, userID string, role domainauth.Role) error
	SetPassword(ctx context.Context, userID, password string) error
}

// UserHandlers provides HTTP handlers for user administration.
type UserHandlers struct {
	Svc    UserServiceInterface
	Logger *slog.Logger
}

type listUsersResponse struct {
	Users  []domainauth.User `json:"users"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type setRoleRequest struct {
	Role string `json:"role"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

type setRoleResponse struct {
	ID   string          `json:"id"`
	Role domainauth.Role `json:"role"`
}

func (h *UserHandlers) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if apperrors.GetCode(err) == "" {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.ErrorContext(r.Context(), msg, "error", err)
	}
	WriteAppError(w, err)
}

// List returns a page of users.
// GET /api/users?limit=&offset=.
func (h *UserHandlers) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultUserListLimit, maxUserListLimit)
	users, err := h.Svc.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, "list users failed", err)
		return
	}
	if users == nil {
		users = []domainauth.User{}
	}
	WriteJSON(w, http.StatusOK, listUsersResponse{Users: users, Limit: limit, Offset: offset})
}

// Create adds a user with a hashed password.
// POST /api/users {email,password,role,firstName,lastName} -> 201 user.
func (h *UserHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	u, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create user failed", err)
		return
	}
	WriteJSON(w, http.StatusCreated, u)
}

// SetRole changes a user's role.
// PUT /api/users/{id}/role {role}.
func (h *UserHandlers) SetRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req setRoleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	role, err := domainauth.ParseRole(req.Role)
	if err != nil {
		WriteAppError(w, apperrors.ValidationField("role", "role must be one of: Administrator, Manager, Staff, Operator"))
		return
	}
	if err := h.Svc.SetRole(r.Context(), id, role); err != nil {
		h.fail(w, r, "set role failed", err)
		return
	}
	WriteJSON(w, http.StatusOK, setRoleResponse{ID: id, Role: role})
}

// SetPassword replaces a user's password. Their existing sessions are revoked.
// PUT /api/users/{id}/password {password} -> 204.
func (h *UserHandlers) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	if err := h.Svc.SetPassword(r.Context(), r.PathValue("id"), req.Password); err != nil {
		h.fail(w, r, "set password failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
