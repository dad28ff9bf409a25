package recall

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/recall/persist"
	"github.com/zero-day-ai/recall/predict"
	"github.com/zero-day-ai/recall/types"
	"github.com/zero-day-ai/recall/vector"
)

// defaultPriority is assigned to entries stored without an explicit
// priority.
const defaultPriority = 50

// overlapThreshold is the share of a query's distinct words that must
// appear in a predicted key before the prediction can answer the lookup.
const overlapThreshold = 0.3

// predictiveTop is how many predictions the lookup stage considers.
const predictiveTop = 10

// snapshotTimeout bounds each snapshot write, periodic or final.
const snapshotTimeout = 5 * time.Second

// Cache is an in-memory key-value store that resolves lookups in three
// stages: exact key, TF-IDF semantic similarity, and learned access
// patterns. Entries are evicted by a weighted score when memory or item
// budgets are exceeded, and contents can be snapshotted to a persistence
// backend. All methods are safe for concurrent use.
type Cache struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	otel   *otelMetrics
	store  persist.Store
	clock  func() time.Time
	sealer *sealer

	// mu guards the primary map, both indexes, memory accounting, and the
	// vector corpus. The tracker, stats recorder, and event bus carry
	// their own locks and never call back into the cache.
	mu       sync.RWMutex
	items    map[string]*Entry
	ttl      expiryHeap
	semantic map[string]string // semantic hash -> owning key
	memBytes int64
	maxBytes int64
	vectors  *vector.Generator

	// lastSnapErr is the most recent snapshot failure, cleared on the
	// next success. Guarded by mu.
	lastSnapErr error

	tracker *predict.Tracker
	stats   *statsRecorder
	bus     *eventBus

	loopCancel context.CancelFunc
	wg         sync.WaitGroup

	// snapMu serializes snapshot writers so the periodic loop, manual
	// Snapshot calls, and the final write during Close never interleave.
	snapMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a cache with the provided options. When persistence is
// active, the previous snapshot is restored before the cache starts
// serving.
//
// Example:
//
//	cache, err := recall.New(
//	    recall.WithConfig(recall.DefaultConfig()),
//	    recall.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close(context.Background())
func New(opts ...Option) (*Cache, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	cfg := s.cfg
	if !s.cfgSet {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, NewConfigurationError("New", err)
	}

	// Create default logger if not provided
	logger := s.logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	clock := s.clock
	if clock == nil {
		clock = time.Now
	}

	var meter metric.Meter
	if cfg.EnableMetrics {
		meter = s.meter
	}
	otel, err := newOtelMetrics(meter)
	if err != nil {
		return nil, NewConfigurationError("New", err)
	}

	var seal *sealer
	if s.encKey != nil {
		seal, err = newSealer(s.encKey)
		if err != nil {
			return nil, NewConfigurationError("New", err)
		}
	}

	// Persistence is active when a store is configured. PersistToDisk
	// provides a file store rooted at CacheDir when none was given.
	store := s.store
	if store == nil && cfg.PersistToDisk {
		fs, err := persist.NewFileStore(cfg.CacheDir)
		if err != nil {
			return nil, NewStorageError("New", err)
		}
		store = fs
	}

	c := &Cache{
		cfg:      cfg,
		logger:   logger,
		tracer:   s.tracer,
		otel:     otel,
		store:    store,
		clock:    clock,
		sealer:   seal,
		items:    make(map[string]*Entry),
		semantic: make(map[string]string),
		maxBytes: cfg.MaxMemoryBytes(),
		vectors:  vector.NewGenerator(),
		tracker:  predict.NewTracker(),
		stats:    newStatsRecorder(cfg.EnableMetrics),
		bus:      newEventBus(),
	}

	if c.store != nil {
		c.restoreSnapshot(context.Background())
	}

	var loopCtx context.Context
	loopCtx, c.loopCancel = context.WithCancel(context.Background())
	c.startLoops(loopCtx)

	logger.Info("cache initialized",
		"maxMemoryMB", cfg.MaxMemoryMB,
		"maxItems", cfg.MaxItems,
		"semantic", cfg.EnableSemantic,
		"predictive", cfg.EnablePredictive,
		"persistence", c.store != nil)

	return c, nil
}

// Set stores a value under the key, replacing any previous entry. It
// reports whether the value was stored: false only when the cache is
// closed, the encoded entry alone exceeds the total memory budget, or
// encryption was requested without a configured key. Internal failures
// degrade rather than propagate, because the cache is an optimization
// layer over a recomputable source.
func (c *Cache) Set(ctx context.Context, key string, value any, opts ...SetOption) bool {
	if c.closed.Load() {
		return false
	}

	start := c.clock()

	so := &setOptions{}
	for _, opt := range opts {
		opt(so)
	}

	ttl := c.cfg.DefaultTTL
	if so.ttlSet {
		ttl = so.ttl
	}
	priority := defaultPriority
	if so.prioritySet {
		priority = so.priority
	}

	payload, compressed, degraded := encodeValue(value, so.compressSet && so.compress)
	if degraded {
		c.stats.degradation()
		c.logger.Warn("value not serializable, stored as string form", "key", key)
		c.emit(EventCacheError, key, map[string]any{
			"error": NewInternalError("Cache.Set", fmt.Errorf("value not serializable, stored as string form")).Error(),
		})
	}

	encrypted := false
	if so.encrypt {
		sealed, err := c.sealPayload(payload)
		if err != nil {
			c.logger.Warn("encrypted write refused", "key", key, "error", err)
			c.emit(EventCacheError, key, map[string]any{
				"error": NewInternalError("Cache.Set", err).Error(),
			})
			return false
		}
		payload = sealed
		encrypted = true
	}

	size := int64(len(payload))
	if size > c.maxBytes {
		c.logger.Warn("entry exceeds total memory budget",
			"key", key,
			"size", size,
			"maxBytes", c.maxBytes)
		c.emit(EventCacheError, key, map[string]any{
			"error": NewInternalError("Cache.Set", fmt.Errorf("entry size %d exceeds memory budget %d", size, c.maxBytes)).Error(),
		})
		return false
	}

	e := &Entry{
		Key:          key,
		Payload:      payload,
		Compressed:   compressed,
		Encrypted:    encrypted,
		CreatedAt:    start,
		Priority:     priority,
		Tags:         so.tags,
		LastAccessed: start,
		Size:         size,
	}
	if ttl > 0 {
		e.ExpiresAt = start.Add(ttl)
	}

	c.mu.Lock()

	if old, ok := c.items[key]; ok {
		c.removeLocked(ctx, old)
	}

	// Encrypted values stay out of the semantic index; a plaintext vector
	// would leak the sealed content.
	if c.cfg.EnableSemantic && !degraded && !encrypted {
		if text, ok := indexableText(value); ok {
			e.SemanticVector = c.vectors.Add(text)
			if e.SemanticVector != nil {
				e.SemanticHash = vector.HashText(text)
				c.semantic[e.SemanticHash] = key
			}
		}
	}

	c.items[key] = e
	c.memBytes += size
	if !e.ExpiresAt.IsZero() {
		rec := &expiryRecord{key: key, at: e.ExpiresAt}
		heap.Push(&c.ttl, rec)
		e.expiry = rec
	}

	c.otel.addItems(ctx, 1)
	c.otel.addMemory(ctx, size)

	if c.cfg.EnablePredictive {
		c.tracker.Record(key, start)
	}

	fields := map[string]any{
		"size":     size,
		"priority": priority,
		"semantic": e.SemanticHash != "",
	}
	if len(so.tags) > 0 {
		fields["tags"] = so.tags
	}
	c.emit(EventItemCached, key, fields)

	c.enforceLimitsLocked(ctx, start)

	c.mu.Unlock()

	c.stats.op(start)
	c.otel.recordOp(ctx, "set", c.clock().Sub(start))

	return true
}

// Get looks up a value. Resolution tries the exact key first, then the
// closest semantically similar entry, then keys the access tracker expects
// to be wanted now; the first stage to produce a value wins. The boolean
// reports whether any stage resolved.
func (c *Cache) Get(ctx context.Context, key string, opts ...GetOption) (any, bool) {
	if c.closed.Load() {
		return nil, false
	}

	gopts := &getOptions{}
	for _, opt := range opts {
		opt(gopts)
	}

	start := c.clock()
	ctx, span := c.startSpan(ctx, "cache.get")

	value, stage, similarity := c.resolve(ctx, key, gopts, start)

	switch stage {
	case stageExact:
		c.stats.hit(start)
	case stageSemantic:
		c.stats.semanticHit(start, similarity)
	case stagePredictive:
		c.stats.predictiveHit(start)
	default:
		c.stats.miss(start)
	}

	c.otel.recordLookup(ctx, stage)
	c.otel.recordOp(ctx, "get", c.clock().Sub(start))
	endLookupSpan(span, key, stage)

	return value, stage != stageMiss
}

// resolve walks the lookup stages under the cache mutex and returns the
// decoded value together with the stage that produced it.
func (c *Cache) resolve(ctx context.Context, key string, opts *getOptions, now time.Time) (any, string, float64) {
	threshold := c.cfg.SemanticThreshold
	if opts.thresholdSet {
		threshold = opts.threshold
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Exact stage. An expired entry is deleted on sight and resolution
	// continues, so the lookup can still be answered semantically.
	if e, ok := c.items[key]; ok {
		if e.Expired(now) {
			c.removeLocked(ctx, e)
			c.stats.expiration(1)
			c.otel.recordExpirations(ctx, 1)
		} else {
			value := c.decodeEntryLocked("Cache.Get", e)
			c.touchLocked(e, now)
			return value, stageExact, 0
		}
	}

	if c.cfg.EnableSemantic && !opts.noSemantic {
		if e, similarity, ok := c.bestSemanticLocked(key, threshold, now); ok {
			value := c.decodeEntryLocked("Cache.Get", e)
			c.touchLocked(e, now)
			c.emit(EventSemanticMatch, e.Key, map[string]any{
				"query":      key,
				"similarity": similarity,
			})
			return value, stageSemantic, similarity
		}
	}

	if c.cfg.EnablePredictive && !opts.noPredictive {
		if e, confidence, overlap, ok := c.bestPredictiveLocked(key, now); ok {
			value := c.decodeEntryLocked("Cache.Get", e)
			c.touchLocked(e, now)
			c.emit(EventPredictiveMatch, e.Key, map[string]any{
				"query":      key,
				"confidence": confidence,
				"overlap":    overlap,
			})
			return value, stagePredictive, 0
		}
	}

	return nil, stageMiss, 0
}

// sealPayload encrypts an encoded payload with the configured key.
func (c *Cache) sealPayload(payload []byte) ([]byte, error) {
	if c.sealer == nil {
		return nil, fmt.Errorf("encryption requested but no key configured")
	}
	return c.sealer.seal(payload)
}

// decodeEntryLocked restores an entry's value, degrading to the raw string
// form when the payload cannot be decoded. Degradation is counted and
// reported but never fails the lookup. Callers hold c.mu.
func (c *Cache) decodeEntryLocked(op string, e *Entry) any {
	payload := e.Payload
	var err error
	if e.Encrypted {
		if c.sealer == nil {
			err = fmt.Errorf("entry is encrypted but no key is configured")
		} else {
			payload, err = c.sealer.open(e.Payload)
		}
	}
	if err == nil {
		var value any
		if value, err = decodeValue(payload, e.Compressed); err == nil {
			return value
		}
	}

	c.stats.degradation()
	c.logger.Warn("payload not decodable, returning raw form", "key", e.Key, "error", err)
	c.emit(EventCacheError, e.Key, map[string]any{
		"error": NewInternalError(op, err).Error(),
	})

	raw := payload
	if raw == nil {
		raw = e.Payload
	}
	if e.Compressed {
		if data, gzErr := gunzipBytes(raw); gzErr == nil {
			raw = data
		}
	}
	return string(raw)
}

// touchLocked bumps access metadata and feeds the access tracker.
// Callers hold c.mu.
func (c *Cache) touchLocked(e *Entry, now time.Time) {
	e.Touch(now)
	if c.cfg.EnablePredictive {
		c.tracker.Record(e.Key, now)
	}
}

// bestSemanticLocked scans vectorized entries for the closest match at or
// above the threshold. Ties break toward the more recently accessed entry,
// then the smaller key, so repeated queries resolve deterministically.
// Callers hold c.mu.
func (c *Cache) bestSemanticLocked(query string, threshold float64, now time.Time) (*Entry, float64, bool) {
	qv := c.vectors.Vectorize(query)
	if len(qv) == 0 {
		return nil, 0, false
	}

	var (
		best      *Entry
		bestScore float64
	)
	for _, e := range c.items {
		if e.SemanticVector == nil || e.Expired(now) {
			continue
		}
		score := vector.Cosine(qv, e.SemanticVector)
		if score < threshold {
			continue
		}
		if best == nil || score > bestScore ||
			(score == bestScore && moreRecent(e, best)) {
			best, bestScore = e, score
		}
	}

	if best == nil {
		return nil, 0, false
	}
	return best, bestScore, true
}

// moreRecent orders entries by last access, falling back to key order for
// a deterministic winner when accesses are simultaneous.
func moreRecent(a, b *Entry) bool {
	if !a.LastAccessed.Equal(b.LastAccessed) {
		return a.LastAccessed.After(b.LastAccessed)
	}
	return a.Key < b.Key
}

// bestPredictiveLocked asks the tracker for its current predictions, most
// confident first, and returns the first resident predicted key that shares
// enough words with the query. Callers hold c.mu.
func (c *Cache) bestPredictiveLocked(query string, now time.Time) (*Entry, float64, float64, bool) {
	queryWords := splitWords(query)
	if len(queryWords) == 0 {
		return nil, 0, 0, false
	}

	for _, p := range c.tracker.Predict(now, predictiveTop) {
		e, ok := c.items[p.Key]
		if !ok || e.Expired(now) {
			continue
		}
		overlap := wordOverlap(queryWords, splitWords(p.Key))
		if overlap > overlapThreshold {
			return e, p.Confidence, overlap, true
		}
	}

	return nil, 0, 0, false
}

// splitWords lowercases and splits on whitespace.
func splitWords(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// wordOverlap returns the share of distinct query words that also appear
// in the candidate words.
func wordOverlap(queryWords, candidateWords []string) float64 {
	if len(queryWords) == 0 {
		return 0
	}

	candidates := make(map[string]struct{}, len(candidateWords))
	for _, w := range candidateWords {
		candidates[w] = struct{}{}
	}

	distinct := make(map[string]struct{}, len(queryWords))
	shared := 0
	for _, w := range queryWords {
		if _, seen := distinct[w]; seen {
			continue
		}
		distinct[w] = struct{}{}
		if _, ok := candidates[w]; ok {
			shared++
		}
	}

	return float64(shared) / float64(len(distinct))
}

// Delete removes a key and its learned access pattern. It reports whether
// an entry was removed; deleting a missing key is a safe no-op.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if c.closed.Load() {
		return false
	}

	start := c.clock()

	c.mu.Lock()
	e, ok := c.items[key]
	if ok {
		c.removeLocked(ctx, e)
		c.emit(EventItemEvicted, key, map[string]any{"reason": reasonDeleted})
	}
	c.mu.Unlock()

	if !ok {
		return false
	}

	c.tracker.Forget(key)
	c.stats.op(start)
	c.otel.recordOp(ctx, "delete", c.clock().Sub(start))

	return true
}

// removeLocked unlinks an entry from the primary map, both indexes, the
// vector corpus, and the memory accounting in one critical section.
// Callers hold c.mu.
func (c *Cache) removeLocked(ctx context.Context, e *Entry) {
	delete(c.items, e.Key)

	c.memBytes -= e.Size
	if c.memBytes < 0 {
		c.memBytes = 0
	}

	if e.expiry != nil && e.expiry.index >= 0 {
		heap.Remove(&c.ttl, e.expiry.index)
	}
	e.expiry = nil

	if e.SemanticHash != "" {
		if owner, ok := c.semantic[e.SemanticHash]; ok && owner == e.Key {
			delete(c.semantic, e.SemanticHash)
		}
		c.vectors.Remove(e.SemanticVector)
	}

	c.otel.addItems(ctx, -1)
	c.otel.addMemory(ctx, -e.Size)
}

// Has reports whether the key is resident and unexpired, without touching
// access metadata or feeding the tracker.
func (c *Cache) Has(key string) bool {
	now := c.clock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	return ok && !e.Expired(now)
}

// Keys returns the resident keys in sorted order. Expired entries that
// have not been swept yet are included; they disappear on their next Get
// or sweep.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	c.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// Len returns the number of resident entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// MemoryUsage returns the bytes currently charged to cached payloads.
func (c *Cache) MemoryUsage() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memBytes
}

// Clear drops every entry and resets the indexes, the vector corpus, all
// counters, and learned access patterns.
func (c *Cache) Clear(ctx context.Context) {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	count := len(c.items)
	mem := c.memBytes
	c.items = make(map[string]*Entry)
	c.ttl = nil
	c.semantic = make(map[string]string)
	c.memBytes = 0
	c.vectors = vector.NewGenerator()
	c.otel.addItems(ctx, -int64(count))
	c.otel.addMemory(ctx, -mem)
	c.mu.Unlock()

	c.tracker.Reset()
	c.stats.reset()

	c.emit(EventCacheCleared, "", map[string]any{"count": count})
	c.logger.Info("cache cleared", "count", count)
}

// Stats returns a point-in-time view of cache activity.
func (c *Cache) Stats() Stats {
	c.stats.refresh(c.clock())
	perf, activity := c.stats.view()

	c.mu.RLock()
	items := len(c.items)
	mem := c.memBytes
	docs := c.vectors.Docs()
	c.mu.RUnlock()

	storage := StorageStats{
		TotalItems:        items,
		MemoryUsageMB:     float64(mem) / (1024 * 1024),
		SemanticIndexSize: docs,
	}
	if items > 0 {
		storage.AvgItemSize = float64(mem) / float64(items)
	}

	return Stats{
		Performance: perf,
		Storage:     storage,
		Activity:    activity,
		Predictive: PredictiveStats{
			TrackedKeys: c.tracker.Tracked(),
			Accuracy:    c.tracker.Accuracy(),
		},
	}
}

// Predictions returns at most n keys the access tracker expects to be
// requested around now, most confident first. A non-positive n asks for
// the tracker's default of ten.
func (c *Cache) Predictions(n int) []predict.Prediction {
	return c.tracker.Predict(c.clock(), n)
}

// PredictionOutcome feeds back whether acting on a prediction paid off,
// moving the accuracy estimate reported by Stats. The cache never records
// outcomes on its own; this hook belongs to whoever consumes predictions.
func (c *Cache) PredictionOutcome(hit bool) {
	c.tracker.RecordOutcome(hit)
}

// HealthCheck probes the cache by writing a key, reading it back, and
// deleting it. Unhealthy means the probe failed; degraded means the probe
// succeeded but snapshot persistence is failing.
func (c *Cache) HealthCheck(ctx context.Context) types.HealthStatus {
	if c.closed.Load() {
		return types.NewUnhealthyStatus("cache is closed", nil)
	}

	probeKey := "recall:health:probe:" + uuid.NewString()
	const probeValue = "health probe"

	if !c.Set(ctx, probeKey, probeValue, WithTTL(time.Minute)) {
		return types.NewUnhealthyStatus("probe write failed", nil)
	}
	got, ok := c.Get(ctx, probeKey, WithoutSemantic(), WithoutPredictive())
	c.Delete(ctx, probeKey)

	if !ok || got != probeValue {
		return types.NewUnhealthyStatus("probe round trip failed", map[string]any{
			"got": got,
		})
	}

	c.mu.RLock()
	items := len(c.items)
	mem := c.memBytes
	lastSnapErr := c.lastSnapErr
	c.mu.RUnlock()

	status := types.NewHealthyStatus("cache operational")
	if lastSnapErr != nil {
		status = types.NewDegradedStatus("snapshot persistence failing", map[string]any{
			"lastError": lastSnapErr.Error(),
		})
	}

	return status.WithDetail("items", items).WithDetail("memoryBytes", mem)
}

// Close stops the background loops, writes a final snapshot when
// persistence is active, and releases all subscriptions. It is idempotent;
// repeat calls return the first result. The context bounds how long Close
// waits for the loops to drain.
func (c *Cache) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.loopCancel()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.closeErr = NewUnavailableError("Cache.Close", ctx.Err())
			c.logger.Warn("close abandoned waiting for background loops", "error", ctx.Err())
		}

		if c.store != nil {
			// The caller's context may already be done; the final
			// snapshot gets its own bounded window. Failures are logged
			// inside persistSnapshot.
			snapCtx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
			defer cancel()
			_ = c.persistSnapshot(snapCtx)
			CloseWithLog(c.store, c.logger, "snapshot store")
		}

		c.bus.close()
		c.logger.Info("cache closed")
	})

	return c.closeErr
}

// emit publishes a stamped event. Publishing never blocks, so emitting
// with the cache mutex held is safe.
func (c *Cache) emit(eventType, key string, fields map[string]any) {
	c.bus.publish(newEvent(eventType, key, c.clock(), fields))
}
