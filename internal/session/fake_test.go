package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

// fakeServer plays the remote auth API shared by every tab.
type fakeServer struct {
	mu       sync.Mutex
	accounts map[string]domainauth.User // email -> user
	password map[string]string          // email -> password
	tokens   map[string]domainauth.User // live token -> user
	seq      int

	// lookupErr, when set, is returned by every GetCurrentUser.
	lookupErr error
	// gate, when set, blocks GetCurrentUser until closed or sent to.
	gate    chan struct{}
	entered chan struct{}
	lookups atomic.Int32
}

func newFakeServer() *fakeServer {
	s := &fakeServer{
		accounts: map[string]domainauth.User{},
		password: map[string]string{},
		tokens:   map[string]domainauth.User{},
	}
	s.addUser(domainauth.User{ID: "u-admin", Email: "admin@example.com", Role: domainauth.RoleAdministrator}, "admin123")
	s.addUser(domainauth.User{ID: "u-staff", Email: "staff@example.com", Role: domainauth.RoleStaff}, "staff123")
	return s
}

func (s *fakeServer) addUser(u domainauth.User, password string) {
	s.accounts[u.Email] = u
	s.password[u.Email] = password
}

// issue creates a live token for email without going through a tab.
func (s *fakeServer) issue(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	tok := fmt.Sprintf("tok-%d", s.seq)
	s.tokens[tok] = s.accounts[email]
	return tok
}

func (s *fakeServer) live(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[tok]
	return ok
}

func (s *fakeServer) setLookupErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// fakeBackend is one tab's backend client over a shared fakeServer.
type fakeBackend struct {
	srv   *fakeServer
	store ports.TokenStore

	logoutErr   error
	loginGate   chan struct{}
	loginEnter  chan struct{}
	logoutCalls atomic.Int32
	revokes     atomic.Int32
}

var (
	_ ports.Backend        = (*fakeBackend)(nil)
	_ ports.SessionRevoker = (*fakeBackend)(nil)
)

func (b *fakeBackend) Login(ctx context.Context, email, password string) (*domainauth.LoginResult, error) {
	if b.loginEnter != nil {
		b.loginEnter <- struct{}{}
	}
	if b.loginGate != nil {
		<-b.loginGate
	}
	b.srv.mu.Lock()
	u, ok := b.srv.accounts[email]
	if !ok || b.srv.password[email] != password {
		b.srv.mu.Unlock()
		return nil, apperrors.ErrInvalidCredentials
	}
	b.srv.seq++
	tok := fmt.Sprintf("tok-%d", b.srv.seq)
	b.srv.tokens[tok] = u
	b.srv.mu.Unlock()

	sess := domainauth.Session{AccessToken: tok}
	if err := b.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &domainauth.LoginResult{Session: sess, User: u}, nil
}

func (b *fakeBackend) Logout(ctx context.Context) error {
	b.logoutCalls.Add(1)
	if sess, _ := b.store.Load(ctx); sess != nil && b.logoutErr == nil {
		b.srv.mu.Lock()
		delete(b.srv.tokens, sess.AccessToken)
		b.srv.mu.Unlock()
	}
	if err := b.store.Clear(ctx); err != nil {
		return err
	}
	return b.logoutErr
}

func (b *fakeBackend) Revoke(_ context.Context, sess domainauth.Session) error {
	b.revokes.Add(1)
	b.srv.mu.Lock()
	delete(b.srv.tokens, sess.AccessToken)
	b.srv.mu.Unlock()
	return nil
}

func (b *fakeBackend) GetSession(ctx context.Context) (*domainauth.Session, error) {
	return b.store.Load(ctx)
}

func (b *fakeBackend) GetCurrentUser(ctx context.Context) (*domainauth.User, error) {
	b.srv.lookups.Add(1)
	b.srv.mu.Lock()
	gate, entered := b.srv.gate, b.srv.entered
	b.srv.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	sess, err := b.store.Load(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	b.srv.mu.Lock()
	defer b.srv.mu.Unlock()
	if b.srv.lookupErr != nil {
		return nil, b.srv.lookupErr
	}
	u, ok := b.srv.tokens[sess.AccessToken]
	if !ok {
		return nil, apperrors.Unauthorized("token has expired")
	}
	return &u, nil
}
