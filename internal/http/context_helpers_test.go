package httpx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

func TestUserFromContext(t *testing.T) {
	u, ok := UserFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, u)
	assert.Empty(t, TokenFromContext(context.Background()))

	assert.Equal(t, context.Background(), SetUserInContext(context.Background(), nil, "tok"))

	user := &domainauth.User{ID: "u-1", Role: domainauth.RoleStaff}
	ctx := SetUserInContext(context.Background(), user, "tok")
	got, ok := UserFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, user, got)
	assert.Equal(t, "tok", TokenFromContext(ctx))
}
