package recall

import (
	"context"
	"math"
	"sort"
	"time"
)

// Eviction score weights. Every term measures evictability, so higher
// scores are evicted first.
const (
	weightRecency   = 0.30
	weightFrequency = 0.25
	weightSize      = 0.20
	weightPriority  = 0.15
	weightExpired   = 0.10
)

// expiredPenalty pushes already-expired entries to the front of the
// eviction order. The TTL sweep removes them independently; the two
// mechanisms race harmlessly because deletes are idempotent.
const expiredPenalty = 10.0

// evictionBatchFraction is the share of resident entries removed when the
// memory budget is exceeded.
const evictionBatchFraction = 0.15

// Eviction reasons carried on item:evicted events.
const (
	reasonDeleted = "deleted"
	reasonEvicted = "evicted"
)

// evictionScore rates how evictable an entry is at the given time. Old,
// rarely accessed, large, low-priority, and expired entries score high.
func evictionScore(now time.Time, e *Entry) float64 {
	hoursSinceAccess := now.Sub(e.LastAccessed).Hours()
	if hoursSinceAccess < 0 {
		hoursSinceAccess = 0
	}

	frequency := 100 - math.Min(float64(e.AccessCount)*5, 95)
	sizeMB := float64(e.Size) / (1024 * 1024)
	priority := float64(100 - e.Priority)

	score := hoursSinceAccess*weightRecency +
		frequency*weightFrequency +
		sizeMB*weightSize +
		priority*weightPriority

	if e.Expired(now) {
		score += expiredPenalty * weightExpired
	}

	return score
}

// enforceLimitsLocked checks the memory and item budgets after a write and
// runs one eviction batch when either is exceeded. A memory overrun targets
// evictionBatchFraction of the resident count; an item overrun targets the
// excess; the larger target wins. Callers hold c.mu.
func (c *Cache) enforceLimitsLocked(ctx context.Context, now time.Time) {
	target := 0
	if c.memBytes > c.maxBytes {
		target = int(math.Ceil(float64(len(c.items)) * evictionBatchFraction))
	}
	if over := len(c.items) - c.cfg.MaxItems; over > target {
		target = over
	}

	if target > 0 {
		c.performEvictionLocked(ctx, now, target)
	}
}

// performEvictionLocked scores every resident entry and removes the
// targetCount most evictable via the standard delete path, so all indexes
// and the memory accounting stay consistent. Access patterns are retained
// so the predictor can still suggest preloading evicted keys. Callers hold
// c.mu.
func (c *Cache) performEvictionLocked(ctx context.Context, now time.Time, targetCount int) {
	if targetCount <= 0 || len(c.items) == 0 {
		return
	}

	type candidate struct {
		key   string
		score float64
	}
	candidates := make([]candidate, 0, len(c.items))
	for key, e := range c.items {
		candidates = append(candidates, candidate{key: key, score: evictionScore(now, e)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].key < candidates[j].key
	})

	if targetCount > len(candidates) {
		targetCount = len(candidates)
	}

	var freed int64
	for _, cand := range candidates[:targetCount] {
		e := c.items[cand.key]
		freed += e.Size
		c.removeLocked(ctx, e)
		c.emit(EventItemEvicted, cand.key, map[string]any{
			"reason": reasonEvicted,
			"score":  cand.score,
		})
	}

	c.stats.eviction(int64(targetCount))
	c.otel.recordEvictions(ctx, int64(targetCount))
	c.emit(EventEvictionCompleted, "", map[string]any{
		"count":      targetCount,
		"freedBytes": freed,
	})

	c.logger.Debug("eviction pass completed",
		"count", targetCount,
		"freedBytes", freed)
}
