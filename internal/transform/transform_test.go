package transform

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-dev/inquest/internal/provider"
	"github.com/inquest-dev/inquest/internal/toolset"
)

func TestSummarizerBelowThresholdPassesThrough(t *testing.T) {
	fast := provider.NewMockProvider() // would error if called
	s := NewLLMSummarizer(map[string]interface{}{"input_threshold": 100}, fast)

	out, err := s.Apply(context.Background(), "short output")
	require.NoError(t, err)
	assert.Equal(t, "short output", out)
	assert.Empty(t, fast.Calls())
}

func TestSummarizerWithoutFastModelIsInert(t *testing.T) {
	s := NewLLMSummarizer(nil, nil)
	raw := strings.Repeat("x", 5000)
	out, err := s.Apply(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestSummarizerCondensesLargeOutput(t *testing.T) {
	fast := provider.NewMockProvider(provider.TextResponse("3 pods crashlooping in ns payments"))
	s := NewLLMSummarizer(map[string]interface{}{"input_threshold": 50}, fast)

	raw := strings.Repeat("NAME READY STATUS RESTARTS AGE\n", 100)
	out, err := s.Apply(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "3 pods crashlooping in ns payments", out)
}

func TestSummarizerDiscardsNonShorterCandidate(t *testing.T) {
	raw := strings.Repeat("y", 200)
	// Candidate same length as input: not strictly shorter, discarded.
	fast := provider.NewMockProvider(provider.TextResponse(strings.Repeat("z", 200)))
	s := NewLLMSummarizer(map[string]interface{}{"input_threshold": 50}, fast)

	out, err := s.Apply(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestChainFallsBackOnTransformerError(t *testing.T) {
	// Mock with no scripted responses errors on first call.
	fast := provider.NewMockProvider()
	chain, err := BuildChain([]toolset.TransformerConfig{
		{Name: "llm_summarize", Config: map[string]interface{}{"input_threshold": 10}},
	}, fast)
	require.NoError(t, err)

	raw := strings.Repeat("data ", 100)
	out, activated := chain.Apply(context.Background(), raw)
	assert.Equal(t, raw, out, "failure keeps the raw output")
	assert.Empty(t, activated)
}

func TestChainOrderAndActivation(t *testing.T) {
	summary := strings.Repeat("condensed ", 10)
	fast := provider.NewMockProvider(provider.TextResponse(summary))
	chain, err := BuildChain([]toolset.TransformerConfig{
		{Name: "llm_summarize", Config: map[string]interface{}{"input_threshold": 10}},
		{Name: "truncate", Config: map[string]interface{}{"max_bytes": 40}},
	}, fast)
	require.NoError(t, err)

	out, activated := chain.Apply(context.Background(), strings.Repeat("verbose ", 50))
	assert.Equal(t, summary[:40]+truncationMarker, out)
	assert.Equal(t, []string{"llm_summarize", "truncate"}, activated)
}

func TestBuildChainUnknownTransformer(t *testing.T) {
	_, err := BuildChain([]toolset.TransformerConfig{{Name: "nope"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown transformer "nope"`)
}

func TestTruncator(t *testing.T) {
	tr := NewTruncator(map[string]interface{}{"max_bytes": 10})
	raw := strings.Repeat("A", 50)
	out, err := tr.Apply(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("A", 10)+truncationMarker, out)
	assert.Less(t, len(out), len(raw))

	out, err = tr.Apply(context.Background(), "short")
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestTruncatorNeverExpands(t *testing.T) {
	// Barely over the cap: adding the marker would grow the payload, so
	// the output is left alone.
	tr := NewTruncator(map[string]interface{}{"max_bytes": 10})
	out, err := tr.Apply(context.Background(), "1234567890ABC")
	require.NoError(t, err)
	assert.Equal(t, "1234567890ABC", out)
}
