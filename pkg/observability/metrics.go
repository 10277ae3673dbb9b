package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig configures the Prometheus meter.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InitMetrics builds the Prometheus-backed meter set. Disabled metrics
// yield an empty recorder whose methods are all no-ops.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("nuzantara")

	turnDuration, err := meter.Float64Histogram(
		"nuzantara_turn_duration_seconds",
		metric.WithDescription("End-to-end turn duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn duration histogram: %w", err)
	}

	turnsTotal, err := meter.Int64Counter(
		"nuzantara_turns_total",
		metric.WithDescription("Total turns processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turns counter: %w", err)
	}

	turnErrors, err := meter.Int64Counter(
		"nuzantara_turn_errors_total",
		metric.WithDescription("Total turns terminated by an error event"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create turn errors counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"nuzantara_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"nuzantara_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"nuzantara_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	llmDuration, err := meter.Float64Histogram(
		"nuzantara_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	llmInputTokens, err := meter.Int64Counter(
		"nuzantara_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM providers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	llmOutputTokens, err := meter.Int64Counter(
		"nuzantara_llm_tokens_output_total",
		metric.WithDescription("Total output tokens received from LLM providers"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	llmErrors, err := meter.Int64Counter(
		"nuzantara_llm_errors_total",
		metric.WithDescription("Total LLM provider errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	retrievalDuration, err := meter.Float64Histogram(
		"nuzantara_retrieval_duration_seconds",
		metric.WithDescription("Retrieval pipeline duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval duration histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"nuzantara_semantic_cache_hits_total",
		metric.WithDescription("Semantic cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"nuzantara_semantic_cache_misses_total",
		metric.WithDescription("Semantic cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	return &PrometheusMetrics{
		turnDuration:      turnDuration,
		turnsTotal:        turnsTotal,
		turnErrorsTotal:   turnErrors,
		toolDuration:      toolDuration,
		toolCallsTotal:    toolCalls,
		toolErrorsTotal:   toolErrors,
		llmDuration:       llmDuration,
		llmInputTokens:    llmInputTokens,
		llmOutputTokens:   llmOutputTokens,
		llmErrorsTotal:    llmErrors,
		retrievalDuration: retrievalDuration,
		cacheHitsTotal:    cacheHits,
		cacheMissesTotal:  cacheMisses,
	}, nil
}
