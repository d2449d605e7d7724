package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestLoggerWritesJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.jsonl")
	logger, err := NewLogger(path, "sess-1")
	require.NoError(t, err)

	require.NoError(t, logger.LogSessionStart("claude-sonnet-4-5-20250929", "investigate"))
	require.NoError(t, logger.LogUserRequest("why is checkout slow?"))
	require.NoError(t, logger.LogToolStart("call-1", "kubectl_get", map[string]interface{}{"kind": "pods"}))
	require.NoError(t, logger.LogToolComplete("call-1", "kubectl_get", "success",
		150*time.Millisecond, "raw listing", "summary", []string{"llm_summarize"}))
	require.NoError(t, logger.LogLLMRequest("anthropic", "claude-sonnet-4-5-20250929", 120, 80, "tool_use"))
	require.NoError(t, logger.LogSessionEnd("complete"))
	require.NoError(t, logger.Close())

	events := readEvents(t, path)
	require.Len(t, events, 6)

	assert.Equal(t, EventTypeSessionStart, events[0].Type)
	assert.Equal(t, "sess-1", events[0].SessionID)

	complete := events[3]
	assert.Equal(t, EventTypeToolComplete, complete.Type)
	assert.Equal(t, "raw listing", complete.Data["raw_output"], "raw output is preserved")
	assert.Equal(t, "summary", complete.Data["transformed_output"])

	llm := events[4]
	assert.EqualValues(t, 200, llm.Data["total_tokens"])
}

func TestLoggerOmitsTransformedWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	logger, err := NewLogger(path, "sess-2")
	require.NoError(t, err)

	require.NoError(t, logger.LogToolComplete("call-1", "echo", "success",
		time.Millisecond, "same", "same", nil))
	require.NoError(t, logger.Close())

	events := readEvents(t, path)
	require.Len(t, events, 1)
	_, has := events[0].Data["transformed_output"]
	assert.False(t, has)
}

func TestLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")

	logger, err := NewLogger(path, "sess-3")
	require.NoError(t, err)
	require.NoError(t, logger.LogSessionStart("m", "check"))
	require.NoError(t, logger.Close())

	logger, err = NewLogger(path, "sess-3")
	require.NoError(t, err)
	require.NoError(t, logger.LogSessionEnd("complete"))
	require.NoError(t, logger.Close())

	assert.Len(t, readEvents(t, path), 2)
}

func TestDefaultPath(t *testing.T) {
	path := DefaultPath("abc-123")
	assert.Contains(t, path, filepath.Join(".inquest", "sessions"))
	assert.Contains(t, path, "abc-123.jsonl")
}
