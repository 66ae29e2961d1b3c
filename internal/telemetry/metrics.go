package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records run, guardrail, hand-off and tool instruments. The zero
// value is not usable; use InitMetrics or NoopMetrics.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry

	runs        metric.Int64Counter
	runDuration metric.Float64Histogram
	verdicts    metric.Int64Counter
	handoffs    metric.Int64Counter
	toolCalls   metric.Int64Counter
}

// InitMetrics creates Prometheus-backed metrics on a private registry. When
// disabled it returns no-op metrics.
func InitMetrics(enabled bool) (*Metrics, error) {
	if !enabled {
		return NoopMetrics(), nil
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry), otelprom.WithoutScopeInfo())
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	m, err := newMetrics(provider.Meter("agentchat"))
	if err != nil {
		return nil, err
	}
	m.provider = provider
	m.registry = registry
	return m, nil
}

// NoopMetrics returns metrics that record nothing.
func NoopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("agentchat"))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	runs, err := meter.Int64Counter("agentchat_runs",
		metric.WithDescription("Total agent runs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	runDuration, err := meter.Float64Histogram("agentchat_run_duration",
		metric.WithDescription("Agent run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	verdicts, err := meter.Int64Counter("agentchat_guardrail_verdicts",
		metric.WithDescription("Input guardrail verdicts by outcome and detected language"))
	if err != nil {
		return nil, fmt.Errorf("failed to create guardrail verdicts counter: %w", err)
	}

	handoffs, err := meter.Int64Counter("agentchat_handoffs",
		metric.WithDescription("Hand-offs to specialized agents"))
	if err != nil {
		return nil, fmt.Errorf("failed to create handoffs counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter("agentchat_tool_calls",
		metric.WithDescription("Tool executions by tool and status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	return &Metrics{
		runs:        runs,
		runDuration: runDuration,
		verdicts:    verdicts,
		handoffs:    handoffs,
		toolCalls:   toolCalls,
	}, nil
}

// Handler serves the Prometheus exposition format. With metrics disabled it
// responds 404.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordRun records one finished run. status is "ok", "blocked" or "error".
func (m *Metrics) RecordRun(ctx context.Context, agent, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordVerdict records a guardrail outcome.
func (m *Metrics) RecordVerdict(ctx context.Context, guardrail string, allowed bool, language string) {
	outcome := "allowed"
	if !allowed {
		outcome = "blocked"
	}
	m.verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("guardrail", guardrail),
		attribute.String("outcome", outcome),
		attribute.String("language", language),
	))
}

// RecordHandoff records a delegation to agent.
func (m *Metrics) RecordHandoff(ctx context.Context, agent string) {
	m.handoffs.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// RecordToolCall records a tool execution. status is "ok", "error" or
// "denied".
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool), attribute.String("status", status)))
}
