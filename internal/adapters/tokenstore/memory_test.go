package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
)

func TestMemoryStore_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	exp := time.Now().Add(time.Hour)
	require.NoError(t, s.Save(ctx, domainauth.Session{AccessToken: "tok", ExpiresAt: &exp}))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok", got.AccessToken)

	// Loaded values are copies.
	got.AccessToken = "mutated"
	*got.ExpiresAt = time.Time{}
	again, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", again.AccessToken)
	assert.Equal(t, exp, *again.ExpiresAt)

	require.NoError(t, s.Clear(ctx))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_EventsReachOtherTabsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	origin := NewOrigin("")
	tabA, tabB := origin.Tab(), origin.Tab()

	evA, err := tabA.Subscribe(ctx)
	require.NoError(t, err)
	evB, err := tabB.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, tabA.Save(ctx, domainauth.Session{AccessToken: "tok-a"}))
	ev := nextEvent(t, evB)
	assert.Equal(t, DefaultKey, ev.Key)
	require.NotNil(t, ev.NewValue)
	assert.Equal(t, "tok-a", ev.NewValue.AccessToken)

	loaded, err := tabB.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-a", loaded.AccessToken)

	require.NoError(t, tabA.Clear(ctx))
	ev = nextEvent(t, evB)
	assert.Nil(t, ev.NewValue)

	noEvent(t, evA, 50*time.Millisecond)
}

func TestMemoryStore_SubscriptionClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	origin := NewOrigin("k")
	ch, err := origin.Tab().Subscribe(ctx)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Writes after unsubscribe must not panic on the closed channel.
	require.NoError(t, origin.Tab().Save(context.Background(), domainauth.Session{AccessToken: "x"}))
}
