package recall

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// otelMetrics holds the OpenTelemetry metric instruments for the cache.
// These are created once during construction and reused for all operations.
type otelMetrics struct {
	// lookups counts Get operations by resolution stage (exact, semantic,
	// predictive, miss)
	lookups metric.Int64Counter

	// evictions counts entries removed by eviction passes
	evictions metric.Int64Counter

	// expirations counts entries removed because their TTL passed
	expirations metric.Int64Counter

	// opDuration records operation latency in milliseconds
	opDuration metric.Float64Histogram

	// items tracks the resident entry count
	items metric.Int64UpDownCounter

	// memoryBytes tracks the memory charged to cached payloads
	memoryBytes metric.Int64UpDownCounter
}

// newOtelMetrics creates and initializes all OpenTelemetry metric
// instruments. A nil meter disables instrument recording entirely.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	if meter == nil {
		return nil, nil
	}

	m := &otelMetrics{}
	var err error

	m.lookups, err = meter.Int64Counter(
		"cache.lookups",
		metric.WithDescription("Lookups by resolution stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create lookups counter: %w", err)
	}

	m.evictions, err = meter.Int64Counter(
		"cache.evictions",
		metric.WithDescription("Entries removed by eviction passes"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evictions counter: %w", err)
	}

	m.expirations, err = meter.Int64Counter(
		"cache.expirations",
		metric.WithDescription("Entries removed by TTL expiry"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create expirations counter: %w", err)
	}

	m.opDuration, err = meter.Float64Histogram(
		"cache.op_duration",
		metric.WithDescription("Operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	m.items, err = meter.Int64UpDownCounter(
		"cache.items",
		metric.WithDescription("Resident entry count"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create items counter: %w", err)
	}

	m.memoryBytes, err = meter.Int64UpDownCounter(
		"cache.memory_bytes",
		metric.WithDescription("Memory charged to cached payloads"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("create memory counter: %w", err)
	}

	return m, nil
}

// recordLookup counts one lookup resolution. Safe on a nil receiver so
// callers never need to check whether metrics are configured.
func (m *otelMetrics) recordLookup(ctx context.Context, stage string) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// recordEvictions counts entries removed by an eviction pass.
func (m *otelMetrics) recordEvictions(ctx context.Context, n int64) {
	if m == nil || m.evictions == nil {
		return
	}
	m.evictions.Add(ctx, n)
}

// recordExpirations counts entries removed by TTL expiry.
func (m *otelMetrics) recordExpirations(ctx context.Context, n int64) {
	if m == nil || m.expirations == nil {
		return
	}
	m.expirations.Add(ctx, n)
}

// recordOp records one operation's latency.
func (m *otelMetrics) recordOp(ctx context.Context, op string, d time.Duration) {
	if m == nil || m.opDuration == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000.0
	m.opDuration.Record(ctx, ms, metric.WithAttributes(attribute.String("op", op)))
}

// addItems moves the resident entry gauge.
func (m *otelMetrics) addItems(ctx context.Context, delta int64) {
	if m == nil || m.items == nil {
		return
	}
	m.items.Add(ctx, delta)
}

// addMemory moves the tracked memory gauge.
func (m *otelMetrics) addMemory(ctx context.Context, delta int64) {
	if m == nil || m.memoryBytes == nil {
		return
	}
	m.memoryBytes.Add(ctx, delta)
}

// startSpan opens a lookup span when a tracer is configured. The returned
// span is nil otherwise; endLookupSpan tolerates that.
func (c *Cache) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.Start(ctx, name)
}

// endLookupSpan closes a lookup span with the resolving stage. A miss is
// recorded as an Error status so sampled traces surface cold lookups.
func endLookupSpan(span trace.Span, key, stage string) {
	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.String("cache.key", key),
		attribute.String("cache.stage", stage),
	)
	if stage == stageMiss {
		span.SetStatus(codes.Error, "cache miss")
	} else {
		span.SetStatus(codes.Ok, fmt.Sprintf("resolved by %s stage", stage))
	}
	span.End()
}

// Lookup resolution stages, used as metric attributes and span fields.
const (
	stageExact      = "exact"
	stageSemantic   = "semantic"
	stagePredictive = "predictive"
	stageMiss       = "miss"
)
