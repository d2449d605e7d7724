package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveLLMRequest(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveLLMRequest("anthropic", "tool_use", 120, 80)
	m.ObserveLLMRequest("anthropic", "end_turn", 30, 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("anthropic", "tool_use")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("anthropic", "input")))
	assert.Equal(t, 90.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("anthropic", "output")))
}

func TestObserveToolCall(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveToolCall("kubectl_get", "success", 0.25)
	m.ObserveToolCall("kubectl_get", "error", 1.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("kubectl_get", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("kubectl_get", "error")))
}

func TestRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) }, "double registration on one registry panics")
}
