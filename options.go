package recall

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/recall/persist"
)

// Option configures the Cache at construction time.
type Option func(*settings)

// settings holds construction-time configuration for a Cache instance.
type settings struct {
	cfg    Config
	cfgSet bool
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer
	store  persist.Store
	clock  func() time.Time
	encKey []byte
}

// WithConfig sets the cache configuration.
// If not provided, DefaultConfig() is used.
func WithConfig(cfg Config) Option {
	return func(s *settings) {
		s.cfg = cfg
		s.cfgSet = true
	}
}

// WithLogger sets a custom logger for the cache.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithMeter sets an OpenTelemetry meter for cache metrics.
// If not provided, metrics are not recorded.
func WithMeter(meter metric.Meter) Option {
	return func(s *settings) {
		s.meter = meter
	}
}

// WithTracer sets an OpenTelemetry tracer for lookup spans.
// This enables observability of which stage resolved each Get.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = tracer
	}
}

// WithStore sets the snapshot persistence backend.
// If not provided and persistence is enabled, a file store rooted at the
// configured cache directory is used.
func WithStore(store persist.Store) Option {
	return func(s *settings) {
		s.store = store
	}
}

// WithClock sets the time source used for TTLs, access tracking, and
// eviction scoring. This is intended for tests; if not provided, time.Now
// is used.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithEncryptionKey sets the AES key (16, 24, or 32 bytes) used for entries
// stored with WithEncryption. Without a key, encrypted writes are refused.
func WithEncryptionKey(key []byte) Option {
	return func(s *settings) {
		s.encKey = key
	}
}

// SetOption configures a single Set operation.
type SetOption func(*setOptions)

// setOptions holds per-entry write configuration.
type setOptions struct {
	ttl         time.Duration
	ttlSet      bool
	priority    int
	prioritySet bool
	tags        []string
	compress    bool
	compressSet bool
	encrypt     bool
}

// WithTTL sets the entry's time to live. A zero or negative duration means
// the entry never expires. If not provided, the configured default TTL
// applies.
func WithTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = ttl
		o.ttlSet = true
	}
}

// WithPriority sets the entry's eviction priority on a 0 to 100 scale.
// Higher priorities survive eviction longer. Values outside the scale are
// clamped. The default is 50.
func WithPriority(priority int) SetOption {
	return func(o *setOptions) {
		if priority < 0 {
			priority = 0
		}
		if priority > 100 {
			priority = 100
		}
		o.priority = priority
		o.prioritySet = true
	}
}

// WithTags attaches categorization tags to the entry.
// Tags are kept in snapshots and surfaced on events for filtering.
func WithTags(tags ...string) SetOption {
	return func(o *setOptions) {
		o.tags = tags
	}
}

// WithCompression overrides the configured compression behavior for this
// entry. Compression only applies to payloads above the size threshold.
func WithCompression(enable bool) SetOption {
	return func(o *setOptions) {
		o.compress = enable
		o.compressSet = true
	}
}

// WithEncryption seals this entry's payload with the cache's encryption
// key. The write is refused when no key was configured. Encrypted entries
// stay out of the semantic index; ciphertext has no usable text.
func WithEncryption() SetOption {
	return func(o *setOptions) {
		o.encrypt = true
	}
}

// GetOption configures a single Get operation.
type GetOption func(*getOptions)

// getOptions holds per-lookup configuration.
type getOptions struct {
	noSemantic   bool
	noPredictive bool
	threshold    float64
	thresholdSet bool
}

// WithoutSemantic disables the semantic similarity stage for this lookup.
// Only exact key matches (and predictive matches, unless also disabled)
// can resolve.
func WithoutSemantic() GetOption {
	return func(o *getOptions) {
		o.noSemantic = true
	}
}

// WithoutPredictive disables the access-pattern stage for this lookup.
func WithoutPredictive() GetOption {
	return func(o *getOptions) {
		o.noPredictive = true
	}
}

// WithSemanticThreshold overrides the configured similarity threshold for
// this lookup. The threshold must be in (0, 1]; values outside that range
// are ignored.
func WithSemanticThreshold(threshold float64) GetOption {
	return func(o *getOptions) {
		if threshold <= 0 || threshold > 1 {
			return
		}
		o.threshold = threshold
		o.thresholdSet = true
	}
}
