// Package session holds the client-side auth state machine. A Manager resolves the
// stored session into a user, runs login and logout through a ports.Backend, and
// reconciles with writes other holders of the same token store make.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	apperrors "github.com/mrpworks/mrp-auth/internal/errors"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var (
	// ErrInvalidTransition is returned by Login outside the Unauthenticated and Errored states.
	ErrInvalidTransition = errors.New("session: login is only allowed when signed out or errored")
	// ErrSuperseded is returned when a newer action or storage event overtook a login.
	ErrSuperseded = errors.New("session: result superseded by a newer change")
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("session: manager already started")
)

// Snapshot is a point-in-time copy of a Manager's state.
type Snapshot struct {
	State   domainauth.State
	Session *domainauth.Session
	User    *domainauth.User
	Loading bool
	Err     error
	// Epoch is the change counter the snapshot was taken at.
	Epoch uint64
}

// Authenticated reports whether the snapshot holds a resolved user.
func (s Snapshot) Authenticated() bool {
	return s.State == domainauth.StateAuthenticated && s.User != nil
}

// Options configures a Manager.
type Options struct {
	Backend ports.Backend
	// Store is cleared when the stored token is rejected.
	Store ports.TokenStore
	// Events is optional; without it the Manager never reconciles.
	Events ports.StorageEventSource
	Logger *slog.Logger
}

// Manager is the auth state machine for one client ("tab").
//
// Every action and storage event takes a new epoch. Results are committed only while
// their epoch is still the newest, so a slow resolution can never overwrite what a
// later event or action decided. Network calls run outside the lock.
type Manager struct {
	backend ports.Backend
	store   ports.TokenStore
	events  ports.StorageEventSource
	logger  *slog.Logger

	lookups singleflight.Group

	mu        sync.Mutex
	snap      Snapshot
	epoch     uint64
	lastToken string
	watchers  map[chan Snapshot]struct{}

	started   atomic.Bool
	cancel    context.CancelFunc // guarded by mu
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewManager returns a Manager in the Initializing state.
func NewManager(opts Options) (*Manager, error) {
	if opts.Backend == nil {
		return nil, errors.New("session manager requires a backend")
	}
	if opts.Store == nil {
		return nil, errors.New("session manager requires a token store")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:  opts.Backend,
		store:    opts.Store,
		events:   opts.Events,
		logger:   logger.With("component", "session_manager"),
		snap:     Snapshot{State: domainauth.StateInitializing, Loading: true},
		watchers: make(map[chan Snapshot]struct{}),
		closed:   make(chan struct{}),
	}, nil
}

// Start subscribes to storage events and resolves the stored session. It blocks until
// the initial resolution settles; reconciliation keeps running until ctx ends or Close.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	if m.events != nil {
		ch, err := m.events.Subscribe(runCtx)
		if err != nil {
			cancel()
			return err
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.reconcile(runCtx, ch)
		}()
	}

	e := m.next(func(s *Snapshot) { s.Loading = true })
	sess, err := m.backend.GetSession(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "reading stored session failed", "error", err)
		m.commit(e, Snapshot{State: domainauth.StateErrored, Err: err})
		return nil
	}
	m.mu.Lock()
	if e == m.epoch {
		m.lastToken = tokenOf(sess)
	}
	m.mu.Unlock()
	m.resolve(ctx, e, sess)
	return nil
}

// Close stops reconciliation and waits for in-flight resolutions to return.
func (m *Manager) Close() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.closeOnce.Do(func() { close(m.closed) })
	m.wg.Wait()
	m.mu.Lock()
	for ch := range m.watchers {
		delete(m.watchers, ch)
		close(ch)
	}
	m.mu.Unlock()
}

// Login authenticates with the backend. On failure the state becomes Errored with the
// session and user cleared, and the classified error is returned.
func (m *Manager) Login(ctx context.Context, email, password string) (*domainauth.User, error) {
	m.mu.Lock()
	if st := m.snap.State; st != domainauth.StateUnauthenticated && st != domainauth.StateErrored {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	e := m.bumpLocked(func(s *Snapshot) {
		s.Loading = true
		s.Err = nil
	})
	m.mu.Unlock()
	defer m.settle(e)

	res, err := m.backend.Login(ctx, email, password)
	if err != nil {
		if !m.commit(e, Snapshot{State: domainauth.StateErrored, Err: err}) {
			return nil, ErrSuperseded
		}
		m.logger.InfoContext(ctx, "login failed", "error_code", apperrors.GetCode(err))
		return nil, err
	}

	sess, user := res.Session, res.User
	m.mu.Lock()
	ok := e == m.epoch
	if ok {
		m.lastToken = sess.AccessToken
		m.setLocked(Snapshot{State: domainauth.StateAuthenticated, Session: &sess, User: &user})
	}
	m.mu.Unlock()
	if !ok {
		m.discardLogin(ctx, sess)
		return nil, ErrSuperseded
	}
	m.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "role", user.Role)
	return cloneUser(&user), nil
}

// discardLogin undoes a login whose result was overtaken. The backend already saved
// sess, so it is cleared unless another writer replaced it, and revoked remotely when
// the backend supports it.
func (m *Manager) discardLogin(ctx context.Context, sess domainauth.Session) {
	m.clearIfStill(ctx, &sess)
	revoker, ok := m.backend.(ports.SessionRevoker)
	if !ok {
		return
	}
	if err := revoker.Revoke(ctx, sess); err != nil {
		m.logger.WarnContext(ctx, "revoking superseded login failed", "error", err)
	}
}

// Logout signs out through the backend. It always ends Unauthenticated; a remote
// failure is logged and otherwise ignored.
func (m *Manager) Logout(ctx context.Context) {
	e := m.next(func(s *Snapshot) { s.Loading = true })
	defer m.settle(e)

	if err := m.backend.Logout(ctx); err != nil {
		m.logger.WarnContext(ctx, "remote logout failed; local session cleared", "error", err)
	}

	// Logout is authoritative: it supersedes anything that started while it ran.
	m.mu.Lock()
	m.lastToken = ""
	m.bumpLocked(func(s *Snapshot) {
		*s = Snapshot{State: domainauth.StateUnauthenticated}
	})
	m.mu.Unlock()
	m.logger.InfoContext(ctx, "logged out")
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap)
}

// User returns the resolved user, or nil.
func (m *Manager) User() *domainauth.User { return m.Snapshot().User }

// Session returns the cached session, or nil.
func (m *Manager) Session() *domainauth.Session { return m.Snapshot().Session }

// Loading reports whether an action or resolution is in flight.
func (m *Manager) Loading() bool { return m.Snapshot().Loading }

// Err returns the error behind the current state, if any.
func (m *Manager) Err() error { return m.Snapshot().Err }

// IsAuthenticated reports whether a user is resolved.
func (m *Manager) IsAuthenticated() bool { return m.Snapshot().Authenticated() }

// HasRole reports whether the resolved user holds one of roles.
func (m *Manager) HasRole(roles ...domainauth.Role) bool {
	return domainauth.HasRole(m.User(), roles...)
}

// Changes delivers a snapshot after every state change until ctx ends or the Manager
// is closed. Slow readers
// only ever miss intermediate snapshots, never the latest one.
func (m *Manager) Changes(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	m.watchers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-m.closed:
		}
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}()
	return ch
}

func (m *Manager) reconcile(ctx context.Context, events <-chan ports.StorageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

// handleEvent applies one storage event. A clear signs out at once; a different token
// is resolved in the background so a later event can overtake it.
func (m *Manager) handleEvent(ctx context.Context, ev ports.StorageEvent) {
	m.mu.Lock()
	if ev.NewValue == nil {
		m.lastToken = ""
		m.bumpLocked(func(s *Snapshot) {
			*s = Snapshot{State: domainauth.StateUnauthenticated}
		})
		m.mu.Unlock()
		m.logger.InfoContext(ctx, "signed out by another client")
		return
	}
	if ev.NewValue.AccessToken == m.lastToken {
		m.mu.Unlock()
		return
	}
	m.lastToken = ev.NewValue.AccessToken
	e := m.bumpLocked(func(s *Snapshot) { s.Loading = true })
	m.mu.Unlock()

	sess := *ev.NewValue
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.resolve(ctx, e, &sess)
	}()
}

// resolve turns a stored session into a state, committing only if e is still current.
func (m *Manager) resolve(ctx context.Context, e uint64, sess *domainauth.Session) {
	if sess == nil {
		m.commit(e, Snapshot{State: domainauth.StateUnauthenticated})
		return
	}

	user, err := m.currentUser(ctx, sess.AccessToken)
	if err == nil && user != nil {
		sess, user, err = m.followStored(ctx, sess, user)
		if sess == nil {
			m.commitToken(e, Snapshot{State: domainauth.StateUnauthenticated})
			return
		}
	}

	switch {
	case err == nil && user != nil:
		m.commitToken(e, Snapshot{State: domainauth.StateAuthenticated, Session: sess, User: user})
	case err == nil, apperrors.IsUnauthorized(err), apperrors.IsForbidden(err):
		if !m.isCurrent(e) {
			return
		}
		m.clearIfStill(ctx, sess)
		m.commitToken(e, Snapshot{State: domainauth.StateUnauthenticated, Err: err})
		m.logger.InfoContext(ctx, "stored session rejected", "error", err)
	default:
		// Transient: keep the stored session so a retry can succeed.
		m.commit(e, Snapshot{State: domainauth.StateErrored, Session: sess, Err: err})
		m.logger.WarnContext(ctx, "resolving session failed", "error", err)
	}
}

// maxStoredFollows bounds how often followStored chases a changing token.
const maxStoredFollows = 3

// followStored re-reads the store after a successful lookup. A backend may refresh the
// token while resolving it, and our own writes raise no storage event, so a changed
// token is looked up again until the cached session and user belong together.
// A nil session means the store was cleared meanwhile.
func (m *Manager) followStored(
	ctx context.Context, sess *domainauth.Session, user *domainauth.User,
) (*domainauth.Session, *domainauth.User, error) {
	for range maxStoredFollows {
		cur, err := m.backend.GetSession(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "re-reading stored session failed", "error", err)
			return sess, user, nil
		}
		if cur == nil {
			return nil, nil, nil
		}
		if cur.SameToken(sess) {
			return sess, user, nil
		}
		sess = cur
		if user, err = m.currentUser(ctx, cur.AccessToken); err != nil || user == nil {
			return sess, user, err
		}
	}
	return sess, user, nil
}

// commitToken commits s and records its token as the one this client last saw.
func (m *Manager) commitToken(e uint64, s Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e != m.epoch {
		return false
	}
	m.lastToken = tokenOf(s.Session)
	m.setLocked(s)
	return true
}

// currentUser coalesces concurrent lookups of the same token into one backend call.
func (m *Manager) currentUser(ctx context.Context, token string) (*domainauth.User, error) {
	v, err, _ := m.lookups.Do(token, func() (any, error) {
		return m.backend.GetCurrentUser(ctx)
	})
	if err != nil {
		return nil, err
	}
	u, _ := v.(*domainauth.User)
	return cloneUser(u), nil
}

// clearIfStill clears the store unless another client already replaced sess.
func (m *Manager) clearIfStill(ctx context.Context, sess *domainauth.Session) {
	cur, err := m.store.Load(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "reading token store before clear failed", "error", err)
	}
	if cur != nil && !cur.SameToken(sess) {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		m.logger.WarnContext(ctx, "clearing token store failed", "error", err)
	}
}

// next takes a new epoch and applies mut to the snapshot.
func (m *Manager) next(mut func(*Snapshot)) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpLocked(mut)
}

func (m *Manager) bumpLocked(mut func(*Snapshot)) uint64 {
	m.epoch++
	s := m.snap
	mut(&s)
	m.setLocked(s)
	return m.epoch
}

// commit replaces the snapshot if e is still current and reports whether it did.
func (m *Manager) commit(e uint64, s Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e != m.epoch {
		return false
	}
	m.setLocked(s)
	return true
}

// settle clears Loading left behind by an action whose epoch is still current.
func (m *Manager) settle(e uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e == m.epoch && m.snap.Loading {
		s := m.snap
		s.Loading = false
		m.setLocked(s)
	}
}

func (m *Manager) isCurrent(e uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return e == m.epoch
}

// setLocked installs s, enforcing that a user never outlives its session, and notifies
// watchers. Loading is kept only when the caller set it.
func (m *Manager) setLocked(s Snapshot) {
	if s.Session == nil {
		s.User = nil
	}
	if s.State != domainauth.StateAuthenticated {
		s.User = nil
	}
	s.Epoch = m.epoch
	m.snap = s
	for ch := range m.watchers {
		publish(ch, cloneSnapshot(s))
	}
}

// publish replaces any undelivered snapshot with s.
func publish(ch chan Snapshot, s Snapshot) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func tokenOf(s *domainauth.Session) string {
	if s == nil {
		return ""
	}
	return s.AccessToken
}

func cloneUser(u *domainauth.User) *domainauth.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneSession(s *domainauth.Session) *domainauth.Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func cloneSnapshot(s Snapshot) Snapshot {
	s.Session = cloneSession(s.Session)
	s.User = cloneUser(s.User)
	return s
}
