package recall

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/recall/persist"
)

// memStore keeps the last snapshot in memory and can be told to fail, for
// exercising both sides of best-effort persistence.
type memStore struct {
	mu   sync.Mutex
	fail bool
	snap *persist.Snapshot
}

func (s *memStore) Save(_ context.Context, snap *persist.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errBackendDown
	}
	s.snap = snap
	return nil
}

func (s *memStore) Load(context.Context) (*persist.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errBackendDown
	}
	if s.snap == nil {
		return nil, persist.ErrNotFound
	}
	return s.snap, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *memStore) snapshot() *persist.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

var errBackendDown = errors.New("snapshot backend down")

func TestSnapshotContents(t *testing.T) {
	store := &memStore{}
	c, clock := newTestCache(t, testConfig(), WithStore(store))
	ctx := context.Background()

	require.True(t, c.Set(ctx, "b", "second"))
	require.True(t, c.Set(ctx, "a", "first"))
	require.True(t, c.Set(ctx, "c", "third"))
	require.NoError(t, c.Snapshot(ctx))

	snap := store.snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, persist.Version, snap.Version)
	assert.Equal(t, clock.Now(), snap.Timestamp)
	assert.Equal(t, 3, snap.Metadata.TotalItems)
	assert.Equal(t, c.MemoryUsage(), snap.Metadata.MemoryUsage)

	// Items are sorted by key so consecutive snapshots diff cleanly.
	keys := make([]string, 0, len(snap.Items))
	for _, item := range snap.Items {
		keys = append(keys, item.Key)
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	var e Entry
	require.NoError(t, json.Unmarshal(snap.Items[0].Entry, &e))
	assert.Equal(t, "a", e.Key)
	assert.NotEmpty(t, e.Payload)
}

func TestSnapshotRoundTripFileStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cfg := testConfig()
	cfg.PersistToDisk = true
	cfg.CacheDir = dir

	clock := newFakeClock(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC))

	first, err := New(WithConfig(cfg), WithLogger(discardLogger()), WithClock(clock.Now))
	require.NoError(t, err)

	require.True(t, first.Set(ctx, "decoy", "zebra xylophone quartz obsidian moonlight"))
	require.True(t, first.Set(ctx, "doc", "machine learning tutorial for beginners with examples"))
	require.True(t, first.Set(ctx, "count", 42))
	require.True(t, first.Set(ctx, "ephemeral", "short lived value here", WithTTL(time.Minute)))

	// Close writes the final snapshot.
	require.NoError(t, first.Close(ctx))

	// The process comes back two minutes later; the short TTL ran out
	// while the cache was down.
	clock.Advance(2 * time.Minute)

	second, err := New(WithConfig(cfg), WithLogger(discardLogger()), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(context.Background()) })

	assert.Equal(t, []string{"count", "decoy", "doc"}, second.Keys())
	assert.Greater(t, second.MemoryUsage(), int64(0))

	got, ok := second.Get(ctx, "count", WithoutSemantic(), WithoutPredictive())
	require.True(t, ok)
	assert.Equal(t, 42, got)

	_, ok = second.Get(ctx, "ephemeral", WithoutSemantic(), WithoutPredictive())
	assert.False(t, ok, "entries that expired while down are not restored")

	// The corpus is rebuilt from the stored vectors, so similarity lookups
	// work immediately after restore.
	assert.Equal(t, 2, second.Stats().Storage.SemanticIndexSize)
	got, ok = second.Get(ctx, "machine learning tutorial")
	require.True(t, ok)
	assert.Equal(t, "machine learning tutorial for beginners with examples", got)
}

func TestRestoreIgnoresCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()

	fs, err := persist.NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.Path(), []byte("not a snapshot"), 0o644))

	cfg := testConfig()
	cfg.PersistToDisk = true
	cfg.CacheDir = dir

	c, err := New(WithConfig(cfg), WithLogger(discardLogger()))
	require.NoError(t, err, "a corrupt snapshot must not fail construction")
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.Equal(t, 0, c.Len())
	require.True(t, c.Set(context.Background(), "fresh", "start"))
	assert.Equal(t, 1, c.Len())
}

func TestRestoreSkipsUndecodableItems(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)

	payload, compressed, degraded := encodeValue("restored value", false)
	require.False(t, degraded)
	good, err := json.Marshal(&Entry{
		Key:          "good",
		Payload:      payload,
		Compressed:   compressed,
		CreatedAt:    created,
		LastAccessed: created,
		Priority:     defaultPriority,
	})
	require.NoError(t, err)

	// An older schema version restores best effort; the malformed item is
	// dropped without poisoning its neighbors.
	store := &memStore{snap: &persist.Snapshot{
		Timestamp: created,
		Version:   "0",
		Items: []persist.Item{
			{Key: "good", Entry: good},
			{Key: "bad", Entry: json.RawMessage(`"not an entry"`)},
		},
		Metadata: persist.Metadata{TotalItems: 2},
	}}

	c, _ := newTestCache(t, testConfig(), WithStore(store))

	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Has("bad"))

	got, ok := c.Get(ctx, "good", WithoutSemantic(), WithoutPredictive())
	require.True(t, ok)
	assert.Equal(t, "restored value", got)
}

func TestRestoreEncryptedEntries(t *testing.T) {
	ctx := context.Background()
	key := []byte("0123456789abcdef0123456789abcdef")
	store := &memStore{}

	first, _ := newTestCache(t, testConfig(), WithStore(store), WithEncryptionKey(key))
	require.True(t, first.Set(ctx, "secret", "sealed value", WithEncryption()))
	require.True(t, first.Set(ctx, "open", "plain value"))
	require.NoError(t, first.Close(ctx))

	t.Run("same key reads sealed entries back", func(t *testing.T) {
		c, _ := newTestCache(t, testConfig(), WithStore(store), WithEncryptionKey(key))

		got, ok := c.Get(ctx, "secret", WithoutSemantic(), WithoutPredictive())
		require.True(t, ok)
		assert.Equal(t, "sealed value", got)
	})

	t.Run("no key skips sealed entries", func(t *testing.T) {
		c, _ := newTestCache(t, testConfig(), WithStore(store))

		assert.False(t, c.Has("secret"), "ciphertext without the key is useless")
		got, ok := c.Get(ctx, "open", WithoutSemantic(), WithoutPredictive())
		require.True(t, ok)
		assert.Equal(t, "plain value", got)
	})
}

func TestSnapshotFailureSurfacesAndRecovers(t *testing.T) {
	store := &memStore{}
	c, _ := newTestCache(t, testConfig(), WithStore(store))
	ctx := context.Background()

	events, cancel := c.Subscribe(EventPersistenceError)
	defer cancel()

	require.True(t, c.Set(ctx, "k", "v"))

	store.setFail(true)
	err := c.Snapshot(ctx)
	require.Error(t, err)

	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, KindStorage, cerr.Kind)

	ev := waitEvent(t, events, EventPersistenceError)
	errText, ok := ev.Fields["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errText, "snapshot backend down")

	assert.True(t, c.HealthCheck(ctx).IsDegraded())

	// The next successful write clears the failure.
	store.setFail(false)
	require.NoError(t, c.Snapshot(ctx))
	assert.True(t, c.HealthCheck(ctx).IsHealthy())
	assert.NotNil(t, store.snapshot())
}
