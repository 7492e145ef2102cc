package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	mocks "github.com/mrpworks/mrp-auth/internal/mocks/auth"
	"github.com/mrpworks/mrp-auth/internal/testutil"
)

func newUserService(t *testing.T) (*UserService, *mocks.MemoryUserRepo, *mocks.MemorySessionStore) {
	t.Helper()
	users := mocks.NewMemoryUserRepo(testutil.AdminAccount())
	sessions := mocks.NewMemorySessionStore()
	svc, err := NewUserService(UserServiceOptions{
		Users:   users,
		Hasher:  testutil.FastHasher(),
		Revoker: sessions,
	})
	require.NoError(t, err)
	return svc, users, sessions
}

func TestCreateUserRequest_Validate(t *testing.T) {
	valid := CreateUserRequest{Email: "staff@example.com", Password: "longenough", Role: domainauth.RoleStaff}

	tests := []struct {
		name  string
		mut   func(r *CreateUserRequest)
		field string
	}{
		{name: "valid", mut: func(*CreateUserRequest) {}},
		{name: "bad email", mut: func(r *CreateUserRequest) { r.Email = "not-an-email" }, field: "email"},
		{name: "short password", mut: func(r *CreateUserRequest) { r.Password = "short" }, field: "password"},
		{name: "unknown role", mut: func(r *CreateUserRequest) { r.Role = "Owner" }, field: "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mut(&r)
			err := r.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
		})
	}
}

func TestUserService_Create(t *testing.T) {
	ctx := context.Background()
	svc, users, _ := newUserService(t)

	u, err := svc.Create(ctx, CreateUserRequest{
		Email:     " manager@example.com ",
		Password:  "manager123",
		Role:      domainauth.RoleManager,
		FirstName: " Mia ",
	})
	require.NoError(t, err)
	assert.Equal(t, "manager@example.com", u.Email)
	assert.Equal(t, "Mia", u.FirstName)

	acc, err := users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	ok, err := testutil.FastHasher().Verify("manager123", acc.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Create(ctx, CreateUserRequest{Email: "MANAGER@example.com", Password: "manager123", Role: domainauth.RoleManager})
	require.True(t, apperrors.IsConflict(err))
}

func TestUserService_List_ClampsLimit(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newUserService(t)

	got, err := svc.List(ctx, 0, -5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = svc.List(ctx, 10_000, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestUserService_SetRole_RevokesSessions(t *testing.T) {
	ctx := context.Background()
	svc, users, sessions := newUserService(t)
	admin := testutil.AdminAccount()

	require.NoError(t, sessions.Save(ctx, domainauth.SessionRecord{ID: "s1", UserID: admin.ID, ExpiresAt: farFuture()}))
	require.NoError(t, sessions.Save(ctx, domainauth.SessionRecord{ID: "s2", UserID: "other", ExpiresAt: farFuture()}))

	require.NoError(t, svc.SetRole(ctx, admin.ID, domainauth.RoleManager))

	acc, err := users.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleManager, acc.Role)
	assert.Equal(t, 1, sessions.Len())

	err = svc.SetRole(ctx, admin.ID, "Owner")
	require.True(t, apperrors.IsValidation(err))

	err = svc.SetRole(ctx, "missing", domainauth.RoleStaff)
	require.True(t, apperrors.IsNotFound(err))
}

func TestUserService_SetPassword(t *testing.T) {
	ctx := context.Background()
	svc, users, sessions := newUserService(t)
	admin := testutil.AdminAccount()
	require.NoError(t, sessions.Save(ctx, domainauth.SessionRecord{ID: "s1", UserID: admin.ID, ExpiresAt: farFuture()}))

	err := svc.SetPassword(ctx, admin.ID, "short")
	require.True(t, apperrors.IsValidation(err))

	require.NoError(t, svc.SetPassword(ctx, admin.ID, "brand-new-secret"))
	acc, err := users.GetByID(ctx, admin.ID)
	require.NoError(t, err)
	ok, err := testutil.FastHasher().Verify("brand-new-secret", acc.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, sessions.Len())
}
