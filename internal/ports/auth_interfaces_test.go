package ports_test

import (
	"testing"

	"github.com/mrpworks/mrp-auth/internal/mocks"
	mockauth "github.com/mrpworks/mrp-auth/internal/mocks/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// This test only verifies that our mocks conform to the ports at compile time.
func TestMocksImplementPorts(t *testing.T) {
	t.Helper()

	var _ ports.Backend = (*mocks.MockBackend)(nil)
	var _ ports.Backend = (*mockauth.StubBackend)(nil)
	var _ ports.SessionStore = (*mockauth.MemorySessionStore)(nil)
	var _ ports.UserRepository = (*mockauth.MemoryUserRepo)(nil)
	var _ ports.RoleMapper = (*mockauth.StaticRoleMapper)(nil)
}
