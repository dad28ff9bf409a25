package recall

import (
	"container/heap"
	"context"
	"time"
)

// Background loop intervals. The cleanup interval comes from Config; the
// rest are fixed.
const (
	metricsInterval  = 30 * time.Second
	preloadInterval  = time.Minute
	snapshotInterval = 5 * time.Minute
)

// Preload suggestion tuning. A pass surfaces at most preloadTop keys whose
// prediction confidence exceeds preloadConfidence.
const (
	preloadTop        = 5
	preloadConfidence = 0.7
)

// startLoops launches the maintenance goroutines. Each exits when ctx is
// cancelled; Close waits for all of them.
func (c *Cache) startLoops(ctx context.Context) {
	c.wg.Add(2)
	go c.cleanupLoop(ctx)
	go c.metricsLoop(ctx)

	if c.cfg.EnablePredictive {
		c.wg.Add(1)
		go c.preloadLoop(ctx)
	}
	if c.store != nil {
		c.wg.Add(1)
		go c.snapshotLoop(ctx)
	}
}

// cleanupLoop sweeps expired entries and repairs index drift on the
// configured interval.
func (c *Cache) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runCleanup(ctx)
		}
	}
}

// runCleanup performs one sweep pass. Expired entries are removed without
// per-item events; a pass that removed anything is announced as a whole.
func (c *Cache) runCleanup(ctx context.Context) {
	now := c.clock()

	c.mu.Lock()
	expired := c.removeExpiredLocked(ctx, now)
	repaired := c.repairOrphansLocked()
	c.mu.Unlock()

	if expired > 0 {
		c.stats.expiration(int64(expired))
		c.otel.recordExpirations(ctx, int64(expired))
		c.emit(EventCleanupCompleted, "", map[string]any{"count": expired})
	}
	if repaired > 0 {
		c.stats.repair(int64(repaired))
	}
	if expired > 0 || repaired > 0 {
		c.logger.Debug("cleanup pass completed", "expired", expired, "repaired", repaired)
	}
}

// removeExpiredLocked pops every record whose deadline has passed and
// removes the entries they point at. Callers hold c.mu.
func (c *Cache) removeExpiredLocked(ctx context.Context, now time.Time) int {
	count := 0
	for c.ttl.Len() > 0 {
		top := c.ttl[0]
		if top.at.After(now) {
			break
		}
		heap.Pop(&c.ttl)

		// Match on the entry's own back-pointer so a record left behind
		// by a replaced entry cannot remove its successor.
		if e, ok := c.items[top.key]; ok && e.expiry == top {
			e.expiry = nil
			c.removeLocked(ctx, e)
			count++
		}
	}
	return count
}

// repairOrphansLocked drops semantic index entries whose key is gone or no
// longer carries the indexed hash. Callers hold c.mu.
func (c *Cache) repairOrphansLocked() int {
	repaired := 0
	for hash, key := range c.semantic {
		if e, ok := c.items[key]; !ok || e.SemanticHash != hash {
			delete(c.semantic, hash)
			repaired++
		}
	}
	return repaired
}

// metricsLoop refreshes derived statistics and verifies memory accounting.
func (c *Cache) metricsLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.stats.refresh(c.clock())
			c.recountMemory(ctx)
		}
	}
}

// recountMemory recomputes the memory total from the entries themselves and
// corrects the running counter when they disagree.
func (c *Cache) recountMemory(ctx context.Context) {
	c.mu.Lock()
	var total int64
	for _, e := range c.items {
		total += e.Size
	}
	drift := total - c.memBytes
	if drift != 0 {
		c.memBytes = total
	}
	c.mu.Unlock()

	if drift != 0 {
		c.logger.Warn("memory accounting drift corrected", "drift", drift)
		c.otel.addMemory(ctx, drift)
	}
}

// preloadLoop periodically surfaces confident predictions for keys that are
// not resident, so subscribers can warm them before the access arrives.
func (c *Cache) preloadLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(preloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.preloadPass()
		}
	}
}

// preloadPass takes the top predictions and suggests the confident ones
// whose keys are not resident.
func (c *Cache) preloadPass() {
	now := c.clock()

	for _, p := range c.tracker.Predict(now, preloadTop) {
		if p.Confidence <= preloadConfidence {
			// Sorted by confidence, the rest are lower.
			break
		}
		if c.Has(p.Key) {
			continue
		}

		fields := map[string]any{
			"confidence": p.Confidence,
			"reason":     p.Reason,
		}
		if p.ExpectedIn > 0 {
			fields["expectedIn"] = p.ExpectedIn.String()
		}
		c.emit(EventPreloadSuggested, p.Key, fields)
		c.stats.prefetch(1)
	}
}

// snapshotLoop persists the cache contents on a fixed interval. Failures
// are logged and reflected in HealthCheck but never stop the loop.
func (c *Cache) snapshotLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
			_ = c.persistSnapshot(snapCtx)
			cancel()
		}
	}
}
