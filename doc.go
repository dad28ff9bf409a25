// Package recall provides an in-memory cache that can answer lookups it has
// never seen the exact key for.
//
// Beyond a plain key-value store, the cache indexes textual values with
// TF-IDF vectors so a lookup can be satisfied by a semantically similar
// entry, and it learns per-key access patterns so a lookup can be satisfied
// by a key the tracker expects to be wanted right now. Both assists are
// best effort and can be disabled globally or per call.
//
// # Core Concepts
//
// The cache is organized around a few moving parts:
//
//   - Entries: encoded values with TTL, priority, tags, and access metadata
//   - Lookup stages: exact key, semantic similarity, then predicted keys
//   - Eviction: a weighted score picks victims when memory or item budgets
//     are exceeded
//   - Events: a non-blocking feed of cache activity for subscribers
//   - Snapshots: best-effort persistence of the cache contents across runs
//
// # Getting Started
//
// Create a cache with the default configuration:
//
//	import "github.com/zero-day-ai/recall"
//
//	cache, err := recall.New(
//		recall.WithConfig(recall.DefaultConfig()),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cache.Close(context.Background())
//
//	cache.Set(ctx, "greeting", "hello world")
//	value, ok := cache.Get(ctx, "greeting")
//
// # Lookup Resolution
//
// Get resolves in three stages and stops at the first that produces a
// value. The exact stage is a map lookup. The semantic stage vectorizes the
// queried key and returns the closest indexed entry at or above the
// similarity threshold. The predictive stage consults the access tracker's
// current predictions and returns the first resident predicted key that
// shares enough words with the query. Per-call options narrow a lookup:
//
//	value, ok := cache.Get(ctx, "user profile",
//		recall.WithSemanticThreshold(0.9),
//		recall.WithoutPredictive(),
//	)
//
// # Storing Values
//
// Set accepts any value. Strings, numbers, booleans, byte slices, and times
// round-trip to their original type; everything else round-trips through
// JSON. Options attach a TTL, an eviction priority, tags, compression, or
// encryption:
//
//	cache.Set(ctx, "report:today", report,
//		recall.WithTTL(15*time.Minute),
//		recall.WithPriority(90),
//		recall.WithTags("report", "daily"),
//	)
//
// Entries written with WithEncryption are sealed with AES-GCM using the key
// supplied to New via WithEncryptionKey; without a key such writes are
// refused.
//
// # Events
//
// Subscribe returns a channel of cache activity. Delivery is non-blocking;
// a slow subscriber loses its oldest undelivered events rather than
// stalling the cache:
//
//	events, cancel := cache.Subscribe(recall.EventItemEvicted)
//	defer cancel()
//	for ev := range events {
//		log.Printf("evicted %s: %v", ev.Key, ev.Fields)
//	}
//
// # Persistence
//
// With persistence enabled the cache restores the previous snapshot at
// startup, persists periodically in the background, and writes a final
// snapshot during Close. Snapshots are best effort: a missing or corrupt
// snapshot means starting empty, never a failed start. The persist package
// provides file and Redis backed stores:
//
//	store, err := persist.NewRedisStore(persist.RedisOptions{
//		URL: "redis://localhost:6379",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	cache, err := recall.New(recall.WithStore(store))
//
// # Error Handling
//
// Constructors and Snapshot return structured errors that work with
// errors.Is:
//
//	if err != nil {
//		if errors.Is(err, recall.ErrInvalidConfig) {
//			// fix the configuration
//		}
//	}
//
// Set and Get degrade instead of failing: a value that cannot be encoded is
// stored in string form, a payload that cannot be decoded is returned in
// string form, and each degradation is counted and published as a cache
// error event.
//
// # Observability
//
// Stats returns hit rates, memory usage, and per-stage counters. With a
// metric.Meter and trace.Tracer supplied, lookups, evictions, operation
// latencies, and storage gauges are exported through OpenTelemetry:
//
//	cache, err := recall.New(
//		recall.WithMeter(otel.Meter("recall")),
//		recall.WithTracer(otel.Tracer("recall")),
//	)
//
// # Thread Safety
//
// All methods on Cache are safe for concurrent use.
package recall
