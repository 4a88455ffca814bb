package countdown

import (
	"context"
	"sort"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/notify"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb), server
}

func TestStoreSeedAndDecrement(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, "s1", 3))

	remaining, found, err := store.Decrement(ctx, "s1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int64(2), remaining)

	remaining, state, err := store.Remaining(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StateActive, state)
	require.Equal(t, int64(2), remaining)
}

func TestStoreDecrementMissingKeyIsNotRecreated(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	_, found, err := store.Decrement(ctx, "gone")
	require.NoError(t, err)
	require.False(t, found)
	require.False(t, server.Exists(config.CacheKey.CountdownKey("gone")))
}

func TestStoreDecrementCorruptValue(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, server.Set(config.CacheKey.CountdownKey("bad"), "abc"))

	_, found, err := store.Decrement(ctx, "bad")
	require.ErrorIs(t, err, ErrCorrupt)
	require.True(t, found)
}

func TestStorePauseAndResume(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Seed(ctx, "s1", 90))

	remaining, ok, err := store.Pause(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(90), remaining)
	require.False(t, server.Exists(config.CacheKey.CountdownKey("s1")))

	ids, err := store.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, state, err := store.Remaining(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, StatePaused, state)

	// A second pause finds nothing active.
	_, ok, err = store.Pause(ctx, "s1")
	require.NoError(t, err)
	require.False(t, ok)

	remaining, ok, err = store.Resume(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(90), remaining)
	require.False(t, server.Exists(config.CacheKey.PausedCountdownKey("s1")))
}

func TestStoreActiveSessionIDs(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Seed(ctx, id, 10))
	}
	require.NoError(t, server.Set("unrelated:key", "1"))

	ids, err := store.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	sort.Strings(ids)
	require.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, store.Delete(ctx, "b"))
	ids, err = store.ActiveSessionIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

type capturePublisher struct {
	messages []string
}

func (c *capturePublisher) Publish(_ context.Context, topic, payload string) error {
	c.messages = append(c.messages, topic+"="+payload)
	return nil
}

func TestTimerPublishesLifecycleEvents(t *testing.T) {
	store, _ := newTestStore(t)
	pub := &capturePublisher{}
	timer := NewTimer(store, pub, zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()
	countdown := config.CacheKey.CountdownTopic(id.String())
	completion := config.CacheKey.CompletionTopic(id.String())

	require.NoError(t, timer.Start(ctx, id, 60))
	_, ok, err := timer.Pause(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = timer.Resume(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, timer.Stop(ctx, id))

	require.Equal(t, []string{
		countdown + "=60",
		countdown + "=" + notify.MarkerPaused,
		countdown + "=60",
		countdown + "=" + notify.MarkerStopped,
		completion + "=" + notify.MarkerTimerStopped,
	}, pub.messages)

	_, state, err := timer.Remaining(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateNone, state)
}
