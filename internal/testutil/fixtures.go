package testutil

import (
	"sync"
	"time"

	"github.com/mrpworks/mrp-auth/internal/adapters/argon2id"
	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

// FastHasher returns an Argon2id hasher with minimal cost for unit tests.
func FastHasher() *argon2id.Hasher {
	return argon2id.New(argon2id.Params{MemoryKiB: 1024, Time: 1, Threads: 1})
}

var (
	adminHashOnce sync.Once
	adminHash     string
)

// AdminAccount returns the seeded administrator fixture with a real hash of "admin123".
func AdminAccount() domainauth.Account {
	adminHashOnce.Do(func() {
		h, err := FastHasher().Hash("admin123")
		if err != nil {
			panic(err)
		}
		adminHash = h
	})
	return domainauth.Account{
		User: domainauth.User{
			ID:        "00000000-0000-0000-0000-000000000001",
			Email:     "admin@example.com",
			Role:      domainauth.RoleAdministrator,
			FirstName: "Ada",
			LastName:  "Admin",
			CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		PasswordHash: adminHash,
	}
}
