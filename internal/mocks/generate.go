// Package mocks provides gomock-generated mocks of the auth ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	backend := mocks.NewMockBackend(ctrl)
//	backend.EXPECT().Logout(gomock.Any()).Return(errors.New("offline"))
package mocks

// Generate mock for the Backend interface from internal/ports.
// This creates MockBackend with methods: Login, Logout, GetSession, GetCurrentUser
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=backend_mock.go github.com/mrpworks/mrp-auth/internal/ports Backend
