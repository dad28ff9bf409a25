package persist

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a miniredis instance and returns a connected
// RedisStore for testing.
func setupTestStore(t *testing.T, opts RedisOptions) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	opts.URL = "redis://" + mr.Addr()

	store, err := NewRedisStore(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store, mr
}

func TestNewRedisStore(t *testing.T) {
	t.Run("connects", func(t *testing.T) {
		store, _ := setupTestStore(t, RedisOptions{})
		assert.NotNil(t, store)
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{URL: "://bad"})
		require.Error(t, err)
	})

	t.Run("unreachable server", func(t *testing.T) {
		_, err := NewRedisStore(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		store, _ := setupTestStore(t, RedisOptions{})

		want := testSnapshot(t)
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, want.Metadata, got.Metadata)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "alpha", got.Items[0].Key)
	})

	t.Run("load without snapshot", func(t *testing.T) {
		store, _ := setupTestStore(t, RedisOptions{})

		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("uses configured key", func(t *testing.T) {
		store, mr := setupTestStore(t, RedisOptions{Key: "custom:snap"})

		require.NoError(t, store.Save(ctx, testSnapshot(t)))
		assert.True(t, mr.Exists("custom:snap"))
		assert.False(t, mr.Exists(defaultRedisKey))
	})

	t.Run("applies TTL", func(t *testing.T) {
		store, mr := setupTestStore(t, RedisOptions{TTL: time.Minute})

		require.NoError(t, store.Save(ctx, testSnapshot(t)))
		_, err := store.Load(ctx)
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)

		_, err = store.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("corrupt payload", func(t *testing.T) {
		store, mr := setupTestStore(t, RedisOptions{})

		require.NoError(t, mr.Set(defaultRedisKey, "not json"))

		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("second save replaces the first", func(t *testing.T) {
		store, _ := setupTestStore(t, RedisOptions{})

		require.NoError(t, store.Save(ctx, testSnapshot(t)))

		second := testSnapshot(t)
		second.Items = second.Items[:1]
		second.Metadata = Metadata{TotalItems: 1, MemoryUsage: 5}
		require.NoError(t, store.Save(ctx, second))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Metadata.TotalItems)
	})
}
