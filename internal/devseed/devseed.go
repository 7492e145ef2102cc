package devseed

// Package devseed populates the users table for local development.
// Passwords go through UserService, so every seeded account carries a real Argon2id hash.

import (
	"context"
	"fmt"
	"log/slog"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/service"
)

// UserCreator is the subset of service.UserService the seed needs.
type UserCreator interface {
	Create(ctx context.Context, req service.CreateUserRequest) (*domainauth.User, error)
}

// Options configures Run.
type Options struct {
	Users         UserCreator
	AdminEmail    string
	AdminPassword string
	Logger        *slog.Logger
}

// DefaultUsers returns the seeded accounts: the administrator plus one user per other role.
func DefaultUsers(adminEmail, adminPassword string) []service.CreateUserRequest {
	if adminEmail == "" {
		adminEmail = "admin@example.com"
	}
	if adminPassword == "" {
		adminPassword = "admin123"
	}
	return []service.CreateUserRequest{
		{Email: adminEmail, Password: adminPassword, Role: domainauth.RoleAdministrator, FirstName: "Ada", LastName: "Admin"},
		{Email: "manager@example.com", Password: "manager123", Role: domainauth.RoleManager, FirstName: "Mona", LastName: "Manager"},
		{Email: "staff@example.com", Password: "staff1234", Role: domainauth.RoleStaff, FirstName: "Sam", LastName: "Staff"},
		{Email: "operator@example.com", Password: "operator123", Role: domainauth.RoleOperator, FirstName: "Otto", LastName: "Operator"},
	}
}

// Run creates the default users. Accounts that already exist are left untouched,
// so Run is safe on every start.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	failures := 0
	for _, req := range DefaultUsers(opts.AdminEmail, opts.AdminPassword) {
		created, err := createUser(ctx, opts.Users, req)
		if err != nil {
			logger.ErrorContext(ctx, "failed to seed user", "email", req.Email, "error", err)
			failures++
			continue
		}
		msg := "user already exists"
		if created {
			msg = "seeded user"
		}
		logger.InfoContext(ctx, msg, "email", req.Email, "role", req.Role)
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func createUser(ctx context.Context, svc UserCreator, req service.CreateUserRequest) (bool, error) {
	if _, err := svc.Create(ctx, req); err != nil {
		if apperrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
