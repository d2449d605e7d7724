// Package metrics exposes Prometheus metrics for the investigation
// engine: model calls, token usage, tool invocations, and transformer
// activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	LLMRequestsTotal *prometheus.CounterVec // Model requests by provider and stop reason
	TokensTotal      *prometheus.CounterVec // Token usage by provider and direction
	ToolCallsTotal   *prometheus.CounterVec // Tool invocations by tool and status
	ToolDuration     *prometheus.HistogramVec
	TransformerRuns  *prometheus.CounterVec // Transformer activations by name
	SessionsTotal    *prometheus.CounterVec // Sessions by mode and outcome
	StepsPerSession  prometheus.Histogram
}

// NewMetrics creates engine metrics registered on the given registerer.
// Tests pass a fresh registry; the CLI passes the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_llm_requests_total",
			Help: "Total model requests",
		}, []string{"provider", "stop_reason"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_llm_tokens_total",
			Help: "Total tokens exchanged with the model",
		}, []string{"provider", "direction"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_tool_calls_total",
			Help: "Total tool invocations",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inquest_tool_duration_seconds",
			Help:    "Tool invocation duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		TransformerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_transformer_activations_total",
			Help: "Transformer activations that changed tool output",
		}, []string{"transformer"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inquest_sessions_total",
			Help: "Investigation sessions by mode and outcome",
		}, []string{"mode", "outcome"}),
		StepsPerSession: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "inquest_session_steps",
			Help:    "Orchestrator steps consumed per session",
			Buckets: prometheus.LinearBuckets(1, 2, 15),
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.TokensTotal,
		m.ToolCallsTotal,
		m.ToolDuration,
		m.TransformerRuns,
		m.SessionsTotal,
		m.StepsPerSession,
	)
	return m
}

// ObserveLLMRequest records one model round trip.
func (m *Metrics) ObserveLLMRequest(provider, stopReason string, inputTokens, outputTokens int) {
	m.LLMRequestsTotal.WithLabelValues(provider, stopReason).Inc()
	m.TokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, seconds float64) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(seconds)
}
