package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.False(t, c.Enabled)
	assert.Equal(t, "trustchain", c.ServiceName)
	assert.Equal(t, 1.0, c.SampleRate)
}

func TestNew_DisabledIsNop(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	var tr Tracker = p
	ctx, done := tr.TrackOperation(context.Background(), "drift.run", Run("r1")...)
	require.NotNil(t, ctx)
	done(errors.New("ignored"))
	require.NoError(t, p.Shutdown(context.Background()))
}

func newRecorded(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	p, err := NewWithProviders(DefaultConfig(),
		sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
		sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	)
	require.NoError(t, err)
	return p, rec, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestTrackOperation_RecordsSpansAndMetrics(t *testing.T) {
	p, rec, reader := newRecorded(t)
	assert.True(t, p.Enabled())

	_, done := p.TrackOperation(context.Background(), "conform.gate", Gate("G1", "PASS")...)
	done(nil)
	_, done = p.TrackOperation(context.Background(), "conform.gate", Gate("G3", "FAIL")...)
	done(errors.New("replay mismatch"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "conform.gate", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "replay mismatch", spans[1].Status().Description)

	assert.Equal(t, int64(2), sumOf(t, reader, "trustchain.operations.total"))
	assert.Equal(t, int64(1), sumOf(t, reader, "trustchain.errors.total"))
	assert.Equal(t, int64(0), sumOf(t, reader, "trustchain.operations.active"))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
