package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSnapshot builds a small two-entry snapshot for round-trip tests.
func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	return &Snapshot{
		Timestamp: time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC),
		Version:   Version,
		Items: []Item{
			{Key: "alpha", Entry: json.RawMessage(`{"key":"alpha","size":5}`)},
			{Key: "bravo", Entry: json.RawMessage(`{"key":"bravo","size":7}`)},
		},
		Metadata: Metadata{TotalItems: 2, MemoryUsage: 12},
	}
}

func TestItemJSON(t *testing.T) {
	t.Run("marshals as a key entry pair", func(t *testing.T) {
		it := Item{Key: "k", Entry: json.RawMessage(`{"size":1}`)}
		data, err := json.Marshal(it)
		require.NoError(t, err)
		assert.JSONEq(t, `["k",{"size":1}]`, string(data))
	})

	t.Run("round trips", func(t *testing.T) {
		data, err := json.Marshal(Item{Key: "k", Entry: json.RawMessage(`{"size":1}`)})
		require.NoError(t, err)

		var got Item
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "k", got.Key)
		assert.JSONEq(t, `{"size":1}`, string(got.Entry))
	})

	t.Run("rejects wrong arity", func(t *testing.T) {
		var got Item
		err := json.Unmarshal([]byte(`["k",{"size":1},"extra"]`), &got)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "want 2")
	})

	t.Run("nil entry marshals as null", func(t *testing.T) {
		data, err := json.Marshal(Item{Key: "k"})
		require.NoError(t, err)
		assert.JSONEq(t, `["k",null]`, string(data))
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		defer store.Close()

		want := testSnapshot(t)
		require.NoError(t, store.Save(ctx, want))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Metadata, got.Metadata)
		require.Len(t, got.Items, 2)
		assert.Equal(t, "alpha", got.Items[0].Key)
		assert.JSONEq(t, string(want.Items[0].Entry), string(got.Items[0].Entry))
	})

	t.Run("load without snapshot", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		_, err = store.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("second save replaces the first", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		first := testSnapshot(t)
		require.NoError(t, store.Save(ctx, first))

		second := testSnapshot(t)
		second.Items = second.Items[:1]
		second.Metadata = Metadata{TotalItems: 1, MemoryUsage: 5}
		require.NoError(t, store.Save(ctx, second))

		got, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Metadata.TotalItems)
		assert.Len(t, got.Items, 1)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, testSnapshot(t)))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, filepath.Base(store.Path()), entries[0].Name())
	})

	t.Run("corrupt file", func(t *testing.T) {
		dir := t.TempDir()
		store, err := NewFileStore(dir)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(store.Path(), []byte("not gzip"), 0o644))

		_, err = store.Load(ctx)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("missing directory is created", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		store, err := NewFileStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, testSnapshot(t)))

		_, err = store.Load(ctx)
		assert.NoError(t, err)
	})

	t.Run("empty directory rejected", func(t *testing.T) {
		_, err := NewFileStore("")
		require.Error(t, err)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store, err := NewFileStore(t.TempDir())
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, store.Save(cctx, testSnapshot(t)))
		_, err = store.Load(cctx)
		assert.Error(t, err)
	})
}
