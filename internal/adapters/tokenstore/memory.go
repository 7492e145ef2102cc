package tokenstore

import (
	"context"
	"sync"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/ports"
)

var (
	_ Store = (*MemoryStore)(nil)
)

// Origin is an in-process storage area shared by several MemoryStore tabs.
type Origin struct {
	key string

	mu    sync.Mutex
	value *domainauth.Session
	subs  map[*memorySub]struct{}
}

type memorySub struct {
	owner *MemoryStore
	ch    chan ports.StorageEvent
}

// NewOrigin creates an empty origin. An empty key selects DefaultKey.
func NewOrigin(key string) *Origin {
	if key == "" {
		key = DefaultKey
	}
	return &Origin{key: key, subs: make(map[*memorySub]struct{})}
}

// Tab returns a new store attached to the origin.
func (o *Origin) Tab() *MemoryStore {
	return &MemoryStore{origin: o}
}

func (o *Origin) write(from *MemoryStore, sess *domainauth.Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.value = cloneSession(sess)
	for sub := range o.subs {
		if sub.owner == from {
			continue
		}
		offer(sub.ch, ports.StorageEvent{Key: o.key, NewValue: cloneSession(sess)})
	}
}

// MemoryStore is one tab's handle on an Origin.
type MemoryStore struct {
	origin *Origin
}

// NewMemoryStore returns a store on a private origin.
func NewMemoryStore() *MemoryStore {
	return NewOrigin("").Tab()
}

func (m *MemoryStore) Save(_ context.Context, sess domainauth.Session) error {
	m.origin.write(m, &sess)
	return nil
}

func (m *MemoryStore) Load(_ context.Context) (*domainauth.Session, error) {
	m.origin.mu.Lock()
	defer m.origin.mu.Unlock()
	return cloneSession(m.origin.value), nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.origin.write(m, nil)
	return nil
}

// Subscribe delivers writes made by other tabs of the same origin until ctx ends.
func (m *MemoryStore) Subscribe(ctx context.Context) (<-chan ports.StorageEvent, error) {
	sub := &memorySub{owner: m, ch: make(chan ports.StorageEvent, eventBuffer)}
	o := m.origin
	o.mu.Lock()
	o.subs[sub] = struct{}{}
	o.mu.Unlock()

	go func() {
		<-ctx.Done()
		o.mu.Lock()
		delete(o.subs, sub)
		close(sub.ch)
		o.mu.Unlock()
	}()
	return sub.ch, nil
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
