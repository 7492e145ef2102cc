package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var _ ports.UserRepository = (*UserRepo)(nil)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = apperrors.NotFound("user not found")
	// ErrLastAdministrator is returned when a role change would leave no administrator.
	ErrLastAdministrator = apperrors.Conflict("cannot demote the last administrator")
)

const defaultListLimit = 50

const userColumns = `id, email, password_hash, role, first_name, last_name, created_at`

// UserRepo persists users in the relational users table.
type UserRepo struct {
	DB *sql.DB
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db}
}

// NormalizeEmail lower-cases and trims an email address for lookup and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domainauth.Account, error) {
	var (
		acc  domainauth.Account
		role string
	)
	if err := row.Scan(
		&acc.ID, &acc.Email, &acc.PasswordHash, &role,
		&acc.FirstName, &acc.LastName, &acc.CreatedAt,
	); err != nil {
		return nil, err
	}
	acc.Role = domainauth.Role(role)
	return &acc, nil
}

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*domainauth.Account, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	acc, err := scanAccount(r.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", apperrors.MapDBError(err))
	}
	return acc, nil
}

// GetByEmail looks a user up by case-insensitive email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domainauth.Account, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrUserNotFound
	}
	return r.getOne(ctx, `lower(email) = $1`, email)
}

// GetByID looks a user up by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*domainauth.Account, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}
	return r.getOne(ctx, `id = $1`, id)
}

// Create inserts a user. A duplicate email maps to a Conflict error on field "email".
func (r *UserRepo) Create(ctx context.Context, in ports.CreateUserInput) (*domainauth.User, error) {
	if !in.Role.Valid() {
		return nil, apperrors.ValidationField("role", "unknown role")
	}
	if in.PasswordHash == "" {
		return nil, apperrors.ValidationField("password", "password hash is required")
	}

	query := `
		INSERT INTO users (email, password_hash, role, first_name, last_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + userColumns

	acc, err := scanAccount(r.DB.QueryRowContext(ctx, query,
		NormalizeEmail(in.Email), in.PasswordHash, string(in.Role), in.FirstName, in.LastName,
	))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", apperrors.MapDBError(err))
	}
	return &acc.User, nil
}

// UpdatePasswordHash replaces a user's stored hash.
func (r *UserRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("update password: %w", apperrors.MapDBError(err))
	}
	return requireOneRow(res)
}

// UpdateRole changes a user's role. Demoting the only remaining administrator is rejected.
func (r *UserRepo) UpdateRole(ctx context.Context, id string, role domainauth.Role) error {
	if !role.Valid() {
		return apperrors.ValidationField("role", "unknown role")
	}

	return inTx(ctx, r.DB, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", apperrors.MapDBError(err))
		}

		if domainauth.Role(current) == domainauth.RoleAdministrator && role != domainauth.RoleAdministrator {
			var admins int
			if err := tx.QueryRowContext(ctx,
				`SELECT count(*) FROM users WHERE role = $1`, string(domainauth.RoleAdministrator),
			).Scan(&admins); err != nil {
				return fmt.Errorf("count administrators: %w", apperrors.MapDBError(err))
			}
			if admins <= 1 {
				return ErrLastAdministrator
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, string(role),
		); err != nil {
			return fmt.Errorf("update role: %w", apperrors.MapDBError(err))
		}
		return nil
	})
}

// List returns users ordered by email.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]domainauth.User, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY email LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", apperrors.MapDBError(err))
	}
	defer rows.Close()

	users := make([]domainauth.User, 0, limit)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, acc.User)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
