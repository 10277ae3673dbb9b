package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_DisabledEverything(t *testing.T) {
	m := NewManager(Config{})
	require.NoError(t, m.Initialize(context.Background()))

	// Disabled tracing yields a usable noop tracer.
	tracer := m.GetTracer("test")
	_, span := tracer.Start(context.Background(), "op")
	span.End()

	// Disabled metrics yield a recorder whose methods are no-ops.
	metrics := m.GetMetrics()
	require.NotNil(t, metrics)
	metrics.RecordTurn(context.Background(), "pro", time.Second, nil)
	metrics.RecordToolExecution(context.Background(), "vector_search", time.Millisecond, nil)
	metrics.RecordLLMCall(context.Background(), "claude", time.Second, 10, 20, nil)
	metrics.RecordRetrieval(context.Background(), "visa_oracle", time.Millisecond)
	metrics.RecordCacheLookup(context.Background(), true)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestGlobalMetricsRoundTrip(t *testing.T) {
	prev := GetGlobalMetrics()
	defer SetGlobalMetrics(prev)

	m := &PrometheusMetrics{}
	SetGlobalMetrics(m)
	assert.Equal(t, Metrics(m), GetGlobalMetrics())
}

func TestGlobalRecorderUsableWithoutInitialize(t *testing.T) {
	// Packages record through the global recorder unconditionally; it must
	// work before any Manager ran, and after a nil reset.
	assert.NotPanics(t, func() {
		GetGlobalMetrics().RecordTurn(context.Background(), "pro", time.Second, nil)
		GetGlobalMetrics().RecordCacheLookup(context.Background(), true)
	})

	prev := GetGlobalMetrics()
	defer SetGlobalMetrics(prev)
	SetGlobalMetrics(nil)
	require.NotNil(t, GetGlobalMetrics())
	assert.NotPanics(t, func() {
		GetGlobalMetrics().RecordToolExecution(context.Background(), "vector_search", time.Millisecond, nil)
	})
}

func TestZeroValueRecorderIsSafe(t *testing.T) {
	var m *PrometheusMetrics
	assert.NotPanics(t, func() {
		m.RecordTurn(context.Background(), "fast", time.Second, nil)
		m.RecordCacheLookup(context.Background(), false)
	})
}
