package recall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewOtelMetricsNilMeter(t *testing.T) {
	m, err := newOtelMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m, "nil meter disables instruments")

	// Every recording method must be safe on a nil receiver.
	ctx := context.Background()
	m.recordLookup(ctx, stageExact)
	m.recordEvictions(ctx, 3)
	m.recordExpirations(ctx, 2)
	m.recordOp(ctx, "set", time.Millisecond)
	m.addItems(ctx, 1)
	m.addMemory(ctx, 128)
}

func TestNewOtelMetricsWithMeter(t *testing.T) {
	meter := noop.NewMeterProvider().Meter("recall-test")

	m, err := newOtelMetrics(meter)
	require.NoError(t, err)
	require.NotNil(t, m)

	// Recording through real instruments must not panic.
	ctx := context.Background()
	m.recordLookup(ctx, stageSemantic)
	m.recordEvictions(ctx, 1)
	m.recordExpirations(ctx, 1)
	m.recordOp(ctx, "get", 250*time.Microsecond)
	m.addItems(ctx, 5)
	m.addMemory(ctx, -64)
}

func TestStartSpanWithoutTracer(t *testing.T) {
	c := &Cache{}
	ctx := context.Background()

	gotCtx, span := c.startSpan(ctx, "cache.get")
	assert.Equal(t, ctx, gotCtx, "context should pass through untouched")
	assert.Nil(t, span)

	// Ending a nil span must be a no-op.
	endLookupSpan(nil, "key", stageExact)
}

func TestEndLookupSpan(t *testing.T) {
	newRecordedSpan := func(t *testing.T, key, stage string) tracetest.SpanStub {
		t.Helper()

		recorder := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
		t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

		c := &Cache{tracer: tp.Tracer("recall-test")}
		_, span := c.startSpan(context.Background(), "cache.get")
		require.NotNil(t, span)

		endLookupSpan(span, key, stage)

		ended := recorder.Ended()
		require.Len(t, ended, 1)
		return tracetest.SpanStubFromReadOnlySpan(ended[0])
	}

	t.Run("resolved lookup", func(t *testing.T) {
		stub := newRecordedSpan(t, "user:42", stageSemantic)

		assert.Equal(t, codes.Ok, stub.Status.Code)
		assert.Contains(t, stub.Attributes, attribute.String("cache.key", "user:42"))
		assert.Contains(t, stub.Attributes, attribute.String("cache.stage", stageSemantic))
	})

	t.Run("miss", func(t *testing.T) {
		stub := newRecordedSpan(t, "absent", stageMiss)

		assert.Equal(t, codes.Error, stub.Status.Code)
		assert.Equal(t, "cache miss", stub.Status.Description)
		assert.Contains(t, stub.Attributes, attribute.String("cache.stage", stageMiss))
	})
}
