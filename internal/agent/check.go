package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inquest-dev/inquest/internal/logging"
	"github.com/inquest-dev/inquest/internal/provider"
)

// CheckResult is the structured verdict of a health check.
type CheckResult struct {
	Passed    bool   `json:"passed"`
	Rationale string `json:"rationale"`
}

const checkRetryPrompt = `Your previous reply did not parse. Respond with exactly one JSON object
of the form {"passed": true|false, "rationale": "..."} and nothing else.`

// Check runs the loop with the strict persona and forces the final turn
// into {passed, rationale}. A parse failure is retried exactly once,
// then surfaced as a hard error.
func (s *Session) Check(ctx context.Context, request string) (*CheckResult, error) {
	outcome, err := s.run(ctx, request, checkPersona, "check")
	if err != nil {
		return nil, err
	}
	if !outcome.Complete {
		return nil, fmt.Errorf("check aborted: %s", IncompleteMarker)
	}

	result, parseErr := parseCheckResult(outcome.Summary)
	if parseErr == nil {
		if s.deps.Audit != nil {
			_ = s.deps.Audit.LogCheckResult(result.Passed, result.Rationale, false)
		}
		return result, nil
	}

	s.logger.WarnWithFields("check verdict did not parse, retrying once",
		logging.Field("error", parseErr.Error()))

	// One corrective turn without tools.
	messages := []provider.Message{
		{Role: provider.RoleUser, Content: request},
		{Role: provider.RoleAssistant, Content: outcome.Summary},
		{Role: provider.RoleUser, Content: checkRetryPrompt},
	}
	resp, err := s.chat(ctx, checkPersona, messages, nil)
	if err != nil {
		return nil, err
	}

	result, parseErr = parseCheckResult(resp.Content)
	if parseErr != nil {
		return nil, fmt.Errorf("check verdict unparseable after retry: %w", parseErr)
	}
	if s.deps.Audit != nil {
		_ = s.deps.Audit.LogCheckResult(result.Passed, result.Rationale, true)
	}
	return result, nil
}

// parseCheckResult extracts the verdict object from the model's text,
// tolerating surrounding prose or code fences.
func parseCheckResult(text string) (*CheckResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", truncate(text, 120))
	}

	var raw struct {
		Passed    *bool  `json:"passed"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("invalid verdict JSON: %w", err)
	}
	if raw.Passed == nil {
		return nil, fmt.Errorf("verdict is missing the passed field")
	}
	return &CheckResult{Passed: *raw.Passed, Rationale: raw.Rationale}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
