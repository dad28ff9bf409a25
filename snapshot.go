package recall

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zero-day-ai/recall/persist"
)

// Snapshot immediately writes the current contents to the snapshot store.
// It returns an error when the cache is closed or persistence is not
// configured. Snapshot failures are also surfaced through HealthCheck and
// the persistence error event, so periodic callers may ignore the return.
func (c *Cache) Snapshot(ctx context.Context) error {
	if c.closed.Load() {
		return NewUnavailableError("Cache.Snapshot", ErrClosed)
	}
	if c.store == nil {
		return NewConfigurationError("Cache.Snapshot", fmt.Errorf("no snapshot store configured"))
	}
	return c.persistSnapshot(ctx)
}

// persistSnapshot serializes the resident entries and saves them. Writers
// are serialized among themselves; the cache stays readable while the
// snapshot is marshaled and written. The most recent failure is retained
// for HealthCheck and cleared on the next success.
func (c *Cache) persistSnapshot(ctx context.Context) error {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	now := c.clock()

	c.mu.RLock()
	entries := make([]*Entry, 0, len(c.items))
	for _, e := range c.items {
		entries = append(entries, e.Clone())
	}
	mem := c.memBytes
	c.mu.RUnlock()

	// Sorted items keep snapshot files diffable across runs.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	items := make([]persist.Item, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			c.logger.Warn("entry not serializable, left out of snapshot", "key", e.Key, "error", err)
			continue
		}
		items = append(items, persist.Item{Key: e.Key, Entry: data})
	}

	err := c.store.Save(ctx, &persist.Snapshot{
		Timestamp: now,
		Version:   persist.Version,
		Items:     items,
		Metadata: persist.Metadata{
			TotalItems:  len(items),
			MemoryUsage: mem,
		},
	})

	c.mu.Lock()
	c.lastSnapErr = err
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("snapshot save failed", "error", err)
		c.emit(EventPersistenceError, "", map[string]any{
			"error": NewStorageError("Cache.Snapshot", err).Error(),
		})
		return NewStorageError("Cache.Snapshot", err)
	}

	c.logger.Debug("snapshot persisted", "items", len(items))
	return nil
}

// restoreSnapshot loads the previous snapshot into the empty cache. Restore
// is best effort: a missing snapshot is silent, anything else is logged and
// the cache starts empty. Entries that expired while the cache was down,
// entries that fail to decode, and encrypted entries the cache holds no key
// for are skipped individually.
func (c *Cache) restoreSnapshot(ctx context.Context) {
	snap, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return
		}
		c.logger.Warn("snapshot restore failed, starting empty", "error", err)
		c.emit(EventPersistenceError, "", map[string]any{
			"error": NewStorageError("Cache.restoreSnapshot", err).Error(),
		})
		return
	}

	if snap.Version != persist.Version {
		c.logger.Warn("snapshot schema version differs, restoring best effort",
			"version", snap.Version,
			"want", persist.Version)
	}

	now := c.clock()
	restored := 0
	skipped := 0
	var mem int64

	c.mu.Lock()
	for _, item := range snap.Items {
		e := new(Entry)
		if err := json.Unmarshal(item.Entry, e); err != nil {
			skipped++
			continue
		}
		e.Key = item.Key
		if e.Key == "" || e.Expired(now) {
			skipped++
			continue
		}
		// Ciphertext is unreadable without the key that sealed it.
		if e.Encrypted && c.sealer == nil {
			skipped++
			continue
		}
		if _, ok := c.items[e.Key]; ok {
			skipped++
			continue
		}

		e.Size = int64(len(e.Payload))
		c.items[e.Key] = e
		c.memBytes += e.Size
		mem += e.Size

		if !e.ExpiresAt.IsZero() {
			rec := &expiryRecord{key: e.Key, at: e.ExpiresAt}
			heap.Push(&c.ttl, rec)
			e.expiry = rec
		}

		if c.cfg.EnableSemantic && e.SemanticVector != nil {
			c.vectors.Restore(e.SemanticVector)
			if e.SemanticHash != "" {
				c.semantic[e.SemanticHash] = e.Key
			}
		} else {
			e.SemanticVector = nil
			e.SemanticHash = ""
		}

		restored++
	}
	c.mu.Unlock()

	c.otel.addItems(ctx, int64(restored))
	c.otel.addMemory(ctx, mem)

	c.logger.Info("snapshot restored",
		"items", restored,
		"skipped", skipped,
		"age", now.Sub(snap.Timestamp).Round(time.Second).String())
}
