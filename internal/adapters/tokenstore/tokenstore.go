// Package tokenstore persists the client's current session under a single key and
// reports writes made by other holders of the same key.
//
// Three stores share the contract: MemoryStore (tabs of one process), FileStore
// (processes on one host) and RedisStore (processes anywhere). A store never sees
// its own writes as events.
package tokenstore

import (
	"context"

	"github.com/mrpworks/mrp-auth/internal/ports"
)

// DefaultKey is the storage key used when none is configured.
const DefaultKey = "auth_token"

// eventBuffer bounds undelivered events per subscriber. Only the newest value matters
// for reconciliation, so a full buffer drops its oldest entry.
const eventBuffer = 8

// Store is a token store that also publishes storage events.
type Store interface {
	ports.TokenStore
	ports.StorageEventSource
}

// offer delivers ev without blocking, evicting the oldest pending event if needed.
func offer(ch chan ports.StorageEvent, ev ports.StorageEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// send delivers ev unless ctx ends first.
func send(ctx context.Context, ch chan<- ports.StorageEvent, ev ports.StorageEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
