package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mrpworks/mrp-auth/internal/adapters/tokenstore"
	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/mocks"
	mockauth "github.com/mrpworks/mrp-auth/internal/mocks/auth"
)

const waitFor = 2 * time.Second

type tab struct {
	mgr     *Manager
	store   *tokenstore.MemoryStore
	backend *fakeBackend
}

// newTab builds a started Manager on a fresh tab of origin.
func newTab(t *testing.T, srv *fakeServer, origin *tokenstore.Origin) *tab {
	t.Helper()
	tb := newUnstartedTab(t, srv, origin)
	require.NoError(t, tb.mgr.Start(context.Background()))
	return tb
}

func newUnstartedTab(t *testing.T, srv *fakeServer, origin *tokenstore.Origin) *tab {
	t.Helper()
	store := origin.Tab()
	backend := &fakeBackend{srv: srv, store: store}
	mgr, err := NewManager(Options{Backend: backend, Store: store, Events: store})
	require.NoError(t, err)
	t.Cleanup(mgr.Close)
	return &tab{mgr: mgr, store: store, backend: backend}
}

func eventuallyState(t *testing.T, m *Manager, want domainauth.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.State == want && !s.Loading
	}, waitFor, 5*time.Millisecond, "want state %s, have %s", want, m.Snapshot().State)
}

func storedSession(t *testing.T, s *tokenstore.MemoryStore) *domainauth.Session {
	t.Helper()
	sess, err := s.Load(context.Background())
	require.NoError(t, err)
	return sess
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{Store: tokenstore.NewMemoryStore()})
	require.Error(t, err)
	_, err = NewManager(Options{Backend: &mockauth.StubBackend{}})
	require.Error(t, err)

	m, err := NewManager(Options{Backend: &mockauth.StubBackend{}, Store: tokenstore.NewMemoryStore()})
	require.NoError(t, err)
	s := m.Snapshot()
	assert.Equal(t, domainauth.StateInitializing, s.State)
	assert.True(t, s.Loading)
}

func TestManager_Start(t *testing.T) {
	t.Run("nothing stored is unauthenticated", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateUnauthenticated, s.State)
		assert.False(t, s.Loading)
		assert.Nil(t, s.User)
		assert.Nil(t, s.Session)
	})

	t.Run("valid stored token is authenticated", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		tok := srv.issue("staff@example.com")
		require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: tok}))

		tb := newTab(t, srv, origin)
		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateAuthenticated, s.State)
		require.NotNil(t, s.User)
		assert.Equal(t, domainauth.RoleStaff, s.User.Role)
		assert.Equal(t, tok, s.Session.AccessToken)
		assert.True(t, tb.mgr.IsAuthenticated())
	})

	t.Run("rejected token clears the store", func(t *testing.T) {
		origin := tokenstore.NewOrigin("")
		require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: "tampered"}))

		tb := newTab(t, newFakeServer(), origin)
		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateUnauthenticated, s.State)
		require.ErrorIs(t, s.Err, apperrors.ErrUnauthorized)
		assert.Nil(t, storedSession(t, tb.store))
	})

	t.Run("network failure keeps the stored session", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		tok := srv.issue("admin@example.com")
		require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: tok}))
		srv.setLookupErr(apperrors.Wrap(errors.New("dial tcp: refused"), apperrors.ErrCodeNetwork, "auth backend unreachable"))

		tb := newTab(t, srv, origin)
		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateErrored, s.State)
		require.ErrorIs(t, s.Err, apperrors.ErrNetwork)
		assert.Nil(t, s.User)
		require.NotNil(t, s.Session)
		assert.Equal(t, tok, s.Session.AccessToken)
		assert.NotNil(t, storedSession(t, tb.store))
	})

	t.Run("server failure keeps the stored session", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: srv.issue("admin@example.com")}))
		srv.setLookupErr(apperrors.Server(502, "bad gateway"))

		tb := newTab(t, srv, origin)
		assert.Equal(t, domainauth.StateErrored, tb.mgr.Snapshot().State)
		assert.NotNil(t, storedSession(t, tb.store))
	})

	t.Run("second start fails", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		require.ErrorIs(t, tb.mgr.Start(context.Background()), ErrAlreadyStarted)
	})
}

func TestManager_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))

		u, err := tb.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)
		assert.Equal(t, domainauth.RoleAdministrator, u.Role)

		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateAuthenticated, s.State)
		assert.False(t, s.Loading)
		assert.NoError(t, s.Err)
		assert.Equal(t, domainauth.RoleAdministrator, s.User.Role)
		assert.True(t, tb.mgr.HasRole(domainauth.RoleAdministrator, domainauth.RoleManager))
		assert.False(t, tb.mgr.HasRole(domainauth.RoleStaff))
		assert.Equal(t, s.Session.AccessToken, storedSession(t, tb.store).AccessToken)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))

		_, err := tb.mgr.Login(ctx, "admin@example.com", "wrong")
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateErrored, s.State)
		require.ErrorIs(t, s.Err, apperrors.ErrInvalidCredentials)
		assert.Nil(t, s.Session)
		assert.Nil(t, s.User)
		assert.False(t, s.Loading)
		assert.Nil(t, storedSession(t, tb.store))
	})

	t.Run("retry after failure", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		_, err := tb.mgr.Login(ctx, "admin@example.com", "wrong")
		require.Error(t, err)

		_, err = tb.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)
		assert.Equal(t, domainauth.StateAuthenticated, tb.mgr.Snapshot().State)
	})

	t.Run("not allowed while authenticated", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		_, err := tb.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)

		_, err = tb.mgr.Login(ctx, "staff@example.com", "staff123")
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, domainauth.RoleAdministrator, tb.mgr.User().Role)
	})

	t.Run("loading is set while in flight", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		tb.backend.loginGate = make(chan struct{})
		tb.backend.loginEnter = make(chan struct{})

		done := make(chan error, 1)
		go func() {
			_, err := tb.mgr.Login(ctx, "admin@example.com", "admin123")
			done <- err
		}()
		<-tb.backend.loginEnter
		assert.True(t, tb.mgr.Loading())
		assert.Equal(t, domainauth.StateUnauthenticated, tb.mgr.Snapshot().State)

		close(tb.backend.loginGate)
		require.NoError(t, <-done)
		assert.False(t, tb.mgr.Loading())
	})
}

func TestManager_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("ends unauthenticated with an empty store", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		_, err := tb.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)

		tb.mgr.Logout(ctx)
		s := tb.mgr.Snapshot()
		assert.Equal(t, domainauth.StateUnauthenticated, s.State)
		assert.Nil(t, s.User)
		assert.Nil(t, s.Session)
		assert.False(t, s.Loading)
		assert.Nil(t, storedSession(t, tb.store))
	})

	t.Run("remote failure is swallowed", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		store := tokenstore.NewMemoryStore()
		require.NoError(t, store.Save(ctx, domainauth.Session{AccessToken: "tok"}))
		user := &domainauth.User{ID: "u-1", Role: domainauth.RoleManager}

		backend := mocks.NewMockBackend(ctrl)
		backend.EXPECT().GetSession(gomock.Any()).DoAndReturn(store.Load).Times(2)
		backend.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)
		backend.EXPECT().Logout(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
			require.NoError(t, store.Clear(ctx))
			return apperrors.Wrap(errors.New("connection reset"), apperrors.ErrCodeNetwork, "auth backend unreachable")
		})

		m, err := NewManager(Options{Backend: backend, Store: store})
		require.NoError(t, err)
		require.NoError(t, m.Start(ctx))
		require.Equal(t, domainauth.StateAuthenticated, m.Snapshot().State)

		m.Logout(ctx)
		s := m.Snapshot()
		assert.Equal(t, domainauth.StateUnauthenticated, s.State)
		assert.NoError(t, s.Err)
		assert.Nil(t, storedSession(t, store))
	})

	t.Run("allowed from any state", func(t *testing.T) {
		tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
		tb.mgr.Logout(ctx)
		tb.mgr.Logout(ctx)
		assert.Equal(t, domainauth.StateUnauthenticated, tb.mgr.Snapshot().State)
		assert.Equal(t, int32(2), tb.backend.logoutCalls.Load())
	})
}

func TestManager_CrossTab(t *testing.T) {
	ctx := context.Background()

	t.Run("logout in one tab signs out the other", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		a := newTab(t, srv, origin)
		b := newTab(t, srv, origin)

		_, err := a.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)
		eventuallyState(t, b.mgr, domainauth.StateAuthenticated)
		assert.Equal(t, "u-admin", b.mgr.User().ID)

		a.mgr.Logout(ctx)
		eventuallyState(t, b.mgr, domainauth.StateUnauthenticated)
		assert.Nil(t, b.mgr.User())
		assert.Nil(t, b.mgr.Session())
	})

	t.Run("new identity in another tab is adopted", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		a := newTab(t, srv, origin)
		b := newTab(t, srv, origin)

		_, err := a.mgr.Login(ctx, "admin@example.com", "admin123")
		require.NoError(t, err)
		eventuallyState(t, b.mgr, domainauth.StateAuthenticated)

		// Another client swaps the stored identity.
		c := origin.Tab()
		require.NoError(t, c.Save(ctx, domainauth.Session{AccessToken: srv.issue("staff@example.com")}))

		require.Eventually(t, func() bool {
			u := b.mgr.User()
			return u != nil && u.Role == domainauth.RoleStaff
		}, waitFor, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			u := a.mgr.User()
			return u != nil && u.Role == domainauth.RoleStaff
		}, waitFor, 5*time.Millisecond)
	})

	t.Run("same token is ignored", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		tok := srv.issue("admin@example.com")
		require.NoError(t, origin.Tab().Save(ctx, domainauth.Session{AccessToken: tok}))
		b := newTab(t, srv, origin)
		require.Equal(t, domainauth.StateAuthenticated, b.mgr.Snapshot().State)
		before := srv.lookups.Load()
		epoch := b.mgr.Snapshot().Epoch

		require.NoError(t, origin.Tab().Save(ctx, domainauth.Session{AccessToken: tok}))
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, before, srv.lookups.Load())
		assert.Equal(t, epoch, b.mgr.Snapshot().Epoch)
	})

	t.Run("rejected token in one tab clears every tab", func(t *testing.T) {
		srv := newFakeServer()
		origin := tokenstore.NewOrigin("")
		a := newTab(t, srv, origin)
		b := newTab(t, srv, origin)

		require.NoError(t, origin.Tab().Save(ctx, domainauth.Session{AccessToken: "forged"}))
		eventuallyState(t, a.mgr, domainauth.StateUnauthenticated)
		eventuallyState(t, b.mgr, domainauth.StateUnauthenticated)
		assert.Nil(t, storedSession(t, a.store))
	})
}

func TestManager_StaleResolutionIsDiscarded(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	origin := tokenstore.NewOrigin("")
	b := newTab(t, srv, origin)
	other := origin.Tab()

	srv.mu.Lock()
	srv.gate = make(chan struct{})
	srv.entered = make(chan struct{}, 4)
	srv.mu.Unlock()

	// A login elsewhere starts a resolution in b that hangs.
	require.NoError(t, other.Save(ctx, domainauth.Session{AccessToken: srv.issue("admin@example.com")}))
	select {
	case <-srv.entered:
	case <-time.After(waitFor):
		t.Fatal("resolution never started")
	}
	assert.True(t, b.mgr.Loading())

	// A logout elsewhere lands before the resolution completes.
	require.NoError(t, other.Clear(ctx))
	eventuallyState(t, b.mgr, domainauth.StateUnauthenticated)
	epoch := b.mgr.Snapshot().Epoch

	srv.mu.Lock()
	close(srv.gate)
	srv.gate = nil
	srv.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	s := b.mgr.Snapshot()
	assert.Equal(t, domainauth.StateUnauthenticated, s.State)
	assert.Nil(t, s.User)
	assert.Equal(t, epoch, s.Epoch)
}

func TestManager_StaleLoginIsSuperseded(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	origin := tokenstore.NewOrigin("")
	a := newTab(t, srv, origin)
	a.backend.loginGate = make(chan struct{})
	a.backend.loginEnter = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := a.mgr.Login(ctx, "admin@example.com", "admin123")
		done <- err
	}()
	<-a.backend.loginEnter

	// Another tab signs out while the login is in flight.
	require.NoError(t, origin.Tab().Clear(ctx))
	eventuallyState(t, a.mgr, domainauth.StateUnauthenticated)

	close(a.backend.loginGate)
	require.ErrorIs(t, <-done, ErrSuperseded)
	s := a.mgr.Snapshot()
	assert.Equal(t, domainauth.StateUnauthenticated, s.State)
	assert.Nil(t, s.User)
	assert.Nil(t, storedSession(t, a.store))
	assert.Equal(t, int32(1), a.backend.revokes.Load())
}

func TestManager_LogoutDuringLoginLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	origin := tokenstore.NewOrigin("")
	a := newTab(t, srv, origin)
	b := newTab(t, srv, origin)
	a.backend.loginGate = make(chan struct{})
	a.backend.loginEnter = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := a.mgr.Login(ctx, "admin@example.com", "admin123")
		done <- err
	}()
	<-a.backend.loginEnter

	a.mgr.Logout(ctx)
	close(a.backend.loginGate)
	require.ErrorIs(t, <-done, ErrSuperseded)

	assert.Equal(t, domainauth.StateUnauthenticated, a.mgr.Snapshot().State)
	assert.Nil(t, storedSession(t, a.store))
	assert.Equal(t, int32(1), a.backend.revokes.Load())
	assert.False(t, srv.live("tok-1"))

	eventuallyState(t, b.mgr, domainauth.StateUnauthenticated)
	time.Sleep(50 * time.Millisecond)
	s := b.mgr.Snapshot()
	assert.Equal(t, domainauth.StateUnauthenticated, s.State)
	assert.Nil(t, s.User)
	assert.Nil(t, s.Session)
}

func TestManager_FollowsRefreshedToken(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, domainauth.Session{AccessToken: "expired", RefreshToken: "r"}))

	var lookups atomic.Int32
	backend := &mockauth.StubBackend{
		GetSessionFunc: store.Load,
		GetCurrentUserFunc: func(ctx context.Context) (*domainauth.User, error) {
			lookups.Add(1)
			sess, err := store.Load(ctx)
			if err != nil || sess == nil {
				return nil, err
			}
			if sess.AccessToken == "expired" {
				if err := store.Save(ctx, domainauth.Session{AccessToken: "refreshed", RefreshToken: "r"}); err != nil {
					return nil, err
				}
			}
			return &domainauth.User{ID: "u-1", Role: domainauth.RoleStaff}, nil
		},
	}
	m, err := NewManager(Options{Backend: backend, Store: store})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	require.NoError(t, m.Start(ctx))

	s := m.Snapshot()
	assert.Equal(t, domainauth.StateAuthenticated, s.State)
	require.NotNil(t, s.Session)
	assert.Equal(t, "refreshed", s.Session.AccessToken)
	assert.Equal(t, "u-1", s.User.ID)
	assert.Equal(t, int32(2), lookups.Load())

	m.mu.Lock()
	assert.Equal(t, "refreshed", m.lastToken)
	m.mu.Unlock()
}

func TestManager_StoreClearedDuringLookup(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Save(ctx, domainauth.Session{AccessToken: "tok"}))

	backend := &mockauth.StubBackend{
		GetSessionFunc: store.Load,
		GetCurrentUserFunc: func(ctx context.Context) (*domainauth.User, error) {
			if err := store.Clear(ctx); err != nil {
				return nil, err
			}
			return &domainauth.User{ID: "u-1", Role: domainauth.RoleStaff}, nil
		},
	}
	m, err := NewManager(Options{Backend: backend, Store: store})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	require.NoError(t, m.Start(ctx))

	s := m.Snapshot()
	assert.Equal(t, domainauth.StateUnauthenticated, s.State)
	assert.Nil(t, s.User)
	assert.Nil(t, s.Session)
}

func TestManager_GetCurrentUserIsCoalesced(t *testing.T) {
	srv := newFakeServer()
	origin := tokenstore.NewOrigin("")
	tok := srv.issue("admin@example.com")
	require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: tok}))
	tb := newUnstartedTab(t, srv, origin)

	srv.mu.Lock()
	srv.gate = make(chan struct{})
	srv.entered = make(chan struct{}, 4)
	srv.mu.Unlock()

	var wg sync.WaitGroup
	users := make([]*domainauth.User, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		users[0], _ = tb.mgr.currentUser(context.Background(), tok)
	}()
	<-srv.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		users[1], _ = tb.mgr.currentUser(context.Background(), tok)
	}()
	time.Sleep(50 * time.Millisecond)
	close(srv.gate)
	wg.Wait()

	assert.Equal(t, int32(1), srv.lookups.Load())
	require.NotNil(t, users[0])
	require.NotNil(t, users[1])
	assert.Equal(t, *users[0], *users[1])
	assert.NotSame(t, users[0], users[1])
}

func TestManager_Changes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
	changes := tb.mgr.Changes(ctx)

	_, err := tb.mgr.Login(context.Background(), "admin@example.com", "admin123")
	require.NoError(t, err)

	var last Snapshot
	require.Eventually(t, func() bool {
		select {
		case s := <-changes:
			last = s
		default:
		}
		return last.State == domainauth.StateAuthenticated
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, "u-admin", last.User.ID)

	cancel()
	eventuallyClosed(t, changes)
}

func TestManager_CloseReleasesWatchers(t *testing.T) {
	tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
	before := tb.mgr.Changes(context.Background())

	tb.mgr.Close()
	eventuallyClosed(t, before)

	after := tb.mgr.Changes(context.Background())
	eventuallyClosed(t, after)
}

func eventuallyClosed(t *testing.T, ch <-chan Snapshot) {
	t.Helper()
	require.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, 5*time.Millisecond)
}

func TestManager_UserImpliesSession(t *testing.T) {
	m, err := NewManager(Options{Backend: &mockauth.StubBackend{}, Store: tokenstore.NewMemoryStore()})
	require.NoError(t, err)

	m.mu.Lock()
	m.setLocked(Snapshot{State: domainauth.StateAuthenticated, User: &domainauth.User{ID: "x"}})
	m.mu.Unlock()
	assert.Nil(t, m.User())

	m.mu.Lock()
	m.setLocked(Snapshot{State: domainauth.StateErrored, Session: &domainauth.Session{AccessToken: "t"}, User: &domainauth.User{ID: "x"}})
	m.mu.Unlock()
	assert.Nil(t, m.User())
	assert.NotNil(t, m.Session())
}

func TestManager_SnapshotIsACopy(t *testing.T) {
	tb := newTab(t, newFakeServer(), tokenstore.NewOrigin(""))
	_, err := tb.mgr.Login(context.Background(), "admin@example.com", "admin123")
	require.NoError(t, err)

	s := tb.mgr.Snapshot()
	s.User.Role = domainauth.RoleOperator
	s.Session.AccessToken = "changed"
	assert.Equal(t, domainauth.RoleAdministrator, tb.mgr.User().Role)
	assert.NotEqual(t, "changed", tb.mgr.Session().AccessToken)
}
