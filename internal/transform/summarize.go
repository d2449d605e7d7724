package transform

import (
	"context"
	"fmt"
	"strings"

	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/provider"
)

// DefaultInputThreshold is the size below which output passes through
// unsummarized.
const DefaultInputThreshold = 1000

const defaultSummaryPrompt = `You condense raw diagnostic tool output for an ongoing investigation.
Preserve every error message, identifier, count and timestamp that could
matter; drop boilerplate and repetition. Reply with the condensed text
only.`

// LLMSummarizer condenses large tool output with a fast model. It stays
// inert when no fast model is configured or the output is small enough
// to pass through untouched.
type LLMSummarizer struct {
	fast      provider.Provider
	threshold int
	prompt    string
	logger    *logging.Logger
}

func NewLLMSummarizer(cfg map[string]interface{}, fast provider.Provider) *LLMSummarizer {
	s := &LLMSummarizer{
		fast:      fast,
		threshold: intOption(cfg, "input_threshold", DefaultInputThreshold),
		prompt:    stringOption(cfg, "prompt", defaultSummaryPrompt),
		logger:    logging.GetLogger("transform.llm_summarize"),
	}
	return s
}

func (s *LLMSummarizer) Name() string { return "llm_summarize" }

// Apply summarizes raw when it exceeds the threshold. Candidates that
// are not strictly shorter than the input are discarded.
func (s *LLMSummarizer) Apply(ctx context.Context, raw string) (string, error) {
	if s.fast == nil || len(raw) <= s.threshold {
		return raw, nil
	}

	resp, err := s.fast.Chat(ctx, s.prompt, []provider.Message{
		{Role: provider.RoleUser, Content: raw},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("summarization call: %w", err)
	}

	candidate := strings.TrimSpace(resp.Content)
	if candidate == "" || len(candidate) >= len(raw) {
		s.logger.DebugWithFields("summary discarded",
			logging.Field("raw_len", len(raw)),
			logging.Field("candidate_len", len(candidate)),
		)
		return raw, nil
	}
	return candidate, nil
}

func intOption(cfg map[string]interface{}, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func stringOption(cfg map[string]interface{}, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
