package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mrpworks/mrp-auth/internal/ports"
)

const eventWait = 3 * time.Second

// nextEvent waits for one event or fails the test.
func nextEvent(t *testing.T, ch <-chan ports.StorageEvent) ports.StorageEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(eventWait):
		t.Fatal("timed out waiting for storage event")
		return ports.StorageEvent{}
	}
}

// noEvent asserts nothing arrives within d.
func noEvent(t *testing.T, ch <-chan ports.StorageEvent, d time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected storage event: %+v", ev)
		}
	case <-time.After(d):
	}
}

func TestOffer_KeepsNewest(t *testing.T) {
	ch := make(chan ports.StorageEvent, 2)
	for _, k := range []string{"a", "b", "c", "d"} {
		offer(ch, ports.StorageEvent{Key: k})
	}
	require.Len(t, ch, 2)
	require.Equal(t, "c", (<-ch).Key)
	require.Equal(t, "d", (<-ch).Key)
}

func TestSend_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, send(ctx, make(chan ports.StorageEvent), ports.StorageEvent{}))
}
