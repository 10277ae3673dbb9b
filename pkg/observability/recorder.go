package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// The recorder starts as a no-op so call sites can record unconditionally
// before (or without) Manager.Initialize installing the real instruments.
var (
	globalMetrics Metrics = &PrometheusMetrics{}
	metricsMu     sync.RWMutex
)

// Metrics records the pipeline's operational signals. All implementations
// must tolerate being called with a nil receiver path disabled.
type Metrics interface {
	RecordTurn(ctx context.Context, tier string, duration time.Duration, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordRetrieval(ctx context.Context, collection string, duration time.Duration)
	RecordCacheLookup(ctx context.Context, hit bool)
}

// PrometheusMetrics implements Metrics on OTel instruments backed by the
// Prometheus exporter. A zero value is a valid no-op recorder.
type PrometheusMetrics struct {
	turnDuration    metric.Float64Histogram
	turnsTotal      metric.Int64Counter
	turnErrorsTotal metric.Int64Counter

	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	retrievalDuration metric.Float64Histogram
	cacheHitsTotal    metric.Int64Counter
	cacheMissesTotal  metric.Int64Counter
}

func (m *PrometheusMetrics) RecordTurn(ctx context.Context, tier string, duration time.Duration, err error) {
	if m == nil || m.turnDuration == nil || m.turnsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tier", tier),
	}

	m.turnDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.turnsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.turnErrorsTotal != nil {
		m.turnErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCallsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}

	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCallsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil && m.toolErrorsTotal != nil {
		m.toolErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil || m.llmInputTokens == nil || m.llmOutputTokens == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("model", model),
	}

	m.llmDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.llmInputTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(attrs...))
	m.llmOutputTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(attrs...))

	if err != nil && m.llmErrorsTotal != nil {
		m.llmErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordRetrieval(ctx context.Context, collection string, duration time.Duration) {
	if m == nil || m.retrievalDuration == nil {
		return
	}

	m.retrievalDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("collection", collection),
	))
}

func (m *PrometheusMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		if m.cacheHitsTotal != nil {
			m.cacheHitsTotal.Add(ctx, 1)
		}
		return
	}
	if m.cacheMissesTotal != nil {
		m.cacheMissesTotal.Add(ctx, 1)
	}
}

// SetGlobalMetrics installs the process-wide recorder. Passing nil resets
// to the no-op recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if m == nil {
		m = &PrometheusMetrics{}
	}
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, never nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
