// Copyright 2025 Vireo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records operational measurements for the runtime.
type Metrics interface {
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordNodeExecution(ctx context.Context, agent, node string, duration time.Duration, err error)
}

// MetricsConfig controls metrics initialization.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// PrometheusMetrics implements Metrics on OTel instruments exported through
// the Prometheus reader.
type PrometheusMetrics struct {
	toolDuration    metric.Float64Histogram
	toolCallsTotal  metric.Int64Counter
	toolErrorsTotal metric.Int64Counter

	llmDuration     metric.Float64Histogram
	llmInputTokens  metric.Int64Counter
	llmOutputTokens metric.Int64Counter
	llmErrorsTotal  metric.Int64Counter

	nodeDuration    metric.Float64Histogram
	nodeRunsTotal   metric.Int64Counter
	nodeErrorsTotal metric.Int64Counter
}

// InitMetrics builds the Prometheus-backed metrics set. Disabled metrics
// return an empty recorder whose methods are no-ops.
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
	meter := meterProvider.Meter(DefaultServiceName)

	m := &PrometheusMetrics{}

	if m.toolDuration, err = meter.Float64Histogram(
		"vireo_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.toolCallsTotal, err = meter.Int64Counter(
		"vireo_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.toolErrorsTotal, err = meter.Int64Counter(
		"vireo_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	if m.llmDuration, err = meter.Float64Histogram(
		"vireo_llm_request_duration_seconds",
		metric.WithDescription("LLM request duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm duration histogram: %w", err)
	}

	if m.llmInputTokens, err = meter.Int64Counter(
		"vireo_llm_tokens_input_total",
		metric.WithDescription("Total input tokens sent to LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm input tokens counter: %w", err)
	}

	if m.llmOutputTokens, err = meter.Int64Counter(
		"vireo_llm_tokens_output_total",
		metric.WithDescription("Total output tokens from LLM"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm output tokens counter: %w", err)
	}

	if m.llmErrorsTotal, err = meter.Int64Counter(
		"vireo_llm_errors_total",
		metric.WithDescription("Total LLM errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm errors counter: %w", err)
	}

	if m.nodeDuration, err = meter.Float64Histogram(
		"vireo_node_execution_duration_seconds",
		metric.WithDescription("Graph node execution duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node duration histogram: %w", err)
	}

	if m.nodeRunsTotal, err = meter.Int64Counter(
		"vireo_node_runs_total",
		metric.WithDescription("Total graph node executions"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node runs counter: %w", err)
	}

	if m.nodeErrorsTotal, err = meter.Int64Counter(
		"vireo_node_errors_total",
		metric.WithDescription("Total graph node errors"),
	); err != nil {
		return nil, fmt.Errorf("failed to create node errors counter: %w", err)
	}

	return m, nil
}

// RecordToolExecution records one tool call.
func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String(AttrToolName, toolName))
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	m.toolCallsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordLLMCall records one LLM request.
func (m *PrometheusMetrics) RecordLLMCall(ctx context.Context, provider, model string, duration time.Duration, inputTokens, outputTokens int, err error) {
	if m == nil || m.llmDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(AttrLLMProvider, provider),
		attribute.String(AttrLLMModel, model),
	)
	m.llmDuration.Record(ctx, duration.Seconds(), attrs)
	m.llmInputTokens.Add(ctx, int64(inputTokens), attrs)
	m.llmOutputTokens.Add(ctx, int64(outputTokens), attrs)
	if err != nil {
		m.llmErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordNodeExecution records one graph node execution.
func (m *PrometheusMetrics) RecordNodeExecution(ctx context.Context, agent, node string, duration time.Duration, err error) {
	if m == nil || m.nodeDuration == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(AttrAgentName, agent),
		attribute.String(AttrNodeID, node),
	)
	m.nodeDuration.Record(ctx, duration.Seconds(), attrs)
	m.nodeRunsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.nodeErrorsTotal.Add(ctx, 1, attrs)
	}
}

// SetGlobalMetrics installs the process-wide metrics recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide metrics recorder, or nil when
// none is installed.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
