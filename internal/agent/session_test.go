package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-dev/inquest/internal/instance"
	"github.com/inquest-dev/inquest/internal/invoker"
	"github.com/inquest-dev/inquest/internal/provider"
	"github.com/inquest-dev/inquest/internal/toolset"

	"github.com/inquest-dev/inquest/internal/config"
)

const testCatalog = `
toolsets:
  - name: test/core
    tools:
      - name: ping
        description: Echo back a message
        command: echo "pong {{ .Params.msg }}"
        parameters:
          msg:
            type: string
            required: true
      - name: whoami
        description: Report the configured user
        command: echo "user={{ .Params.ignored }}"
`

func testRegistry(t *testing.T) *toolset.Registry {
	t.Helper()
	r, err := toolset.Load(toolset.Sources{Builtin: [][]byte{[]byte(testCatalog)}}, "0.1.0")
	require.NoError(t, err)
	return r
}

func newTestSession(t *testing.T, p provider.Provider, maxSteps int) *Session {
	t.Helper()
	s, err := NewSession(Deps{
		Provider: p,
		Registry: testRegistry(t),
		Invoker:  invoker.New(nil, 0),
		MaxSteps: maxSteps,
	})
	require.NoError(t, err)
	return s
}

func toolCall(id, name, input string) provider.ToolUseBlock {
	return provider.ToolUseBlock{ID: id, Name: name, Input: json.RawMessage(input)}
}

func TestInvestigateEndsOnTextTurn(t *testing.T) {
	mock := provider.NewMockProvider(provider.TextResponse("all healthy"))
	s := newTestSession(t, mock, 5)

	outcome, err := s.Investigate(context.Background(), "is everything ok?")
	require.NoError(t, err)
	assert.True(t, outcome.Complete)
	assert.Equal(t, "all healthy", outcome.Summary)
	assert.Equal(t, 1, outcome.Steps)
}

func TestInvestigateExecutesToolsAndReinjectsByCallID(t *testing.T) {
	mock := provider.NewMockProvider(
		provider.ToolCallResponse(
			toolCall("call-a", "ping", `{"msg":"one"}`),
			toolCall("call-b", "ping", `{"msg":"two"}`),
		),
		provider.TextResponse("both responded"),
	)
	s := newTestSession(t, mock, 5)

	outcome, err := s.Investigate(context.Background(), "ping twice")
	require.NoError(t, err)
	assert.True(t, outcome.Complete)
	assert.Equal(t, 2, outcome.Steps)

	calls := mock.Calls()
	require.Len(t, calls, 2)

	// Second model call carries one tagged result per tool call, in
	// declaration order.
	last := calls[1].Messages[len(calls[1].Messages)-1]
	require.Len(t, last.ToolResult, 2)
	assert.Equal(t, "call-a", last.ToolResult[0].ToolUseID)
	assert.Equal(t, "call-b", last.ToolResult[1].ToolUseID)
	assert.Contains(t, last.ToolResult[0].Content, "pong one")
	assert.Contains(t, last.ToolResult[1].Content, "pong two")

	var envelope invoker.Result
	require.NoError(t, json.Unmarshal([]byte(last.ToolResult[0].Content), &envelope))
	assert.Equal(t, invoker.StatusSuccess, envelope.Status)
}

func TestInvestigateBudgetExhaustion(t *testing.T) {
	// The model never stops asking for tools.
	mock := provider.NewMockProvider(
		provider.ToolCallResponse(toolCall("c1", "ping", `{"msg":"a"}`)),
		provider.ToolCallResponse(toolCall("c2", "ping", `{"msg":"b"}`)),
	)
	s := newTestSession(t, mock, 2)

	outcome, err := s.Investigate(context.Background(), "keep digging")
	require.NoError(t, err)
	assert.False(t, outcome.Complete)
	assert.Equal(t, 2, outcome.Steps)
	assert.Contains(t, outcome.Summary, IncompleteMarker)
	assert.Len(t, mock.Calls(), 2, "the loop halts within the budget")
}

func TestInvestigateUnknownToolBecomesErrorResult(t *testing.T) {
	mock := provider.NewMockProvider(
		provider.ToolCallResponse(toolCall("c1", "no_such_tool", `{}`)),
		provider.TextResponse("adjusted"),
	)
	s := newTestSession(t, mock, 5)

	_, err := s.Investigate(context.Background(), "try something")
	require.NoError(t, err, "a bad tool name never aborts the loop")

	last := mock.Calls()[1].Messages
	result := last[len(last)-1].ToolResult[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "unknown or disabled tool")
}

func TestInvestigateResolvesInstanceSecrets(t *testing.T) {
	catalog := `
toolsets:
  - name: test/es
    config:
      api_key: operator-key
    tools:
      - name: es_health
        command: echo "curl -H 'Auth {{ .Secrets.password }}' cluster={{ .Params.instance_id }}"
        parameters:
          instance_id:
            type: string
`
	registry, err := toolset.Load(toolset.Sources{Builtin: [][]byte{[]byte(catalog)}}, "0.1.0")
	require.NoError(t, err)

	resolver := instance.NewResolver([]config.InstanceConfig{
		{ID: "staging-es", Name: "staging-es", Type: "elasticsearch", Environment: "staging", Enabled: true},
	})
	creds := instance.NewCredentialStore(instance.ConfigCredentialSource{}, time.Minute)

	mock := provider.NewMockProvider(
		provider.ToolCallResponse(toolCall("c1", "es_health", `{"instance_id":"staging-es"}`)),
		provider.TextResponse("green"),
	)
	s, err := NewSession(Deps{
		Provider:    mock,
		Registry:    registry,
		Invoker:     invoker.New(nil, 0),
		Resolver:    resolver,
		Credentials: creds,
		MaxSteps:    5,
	})
	require.NoError(t, err)

	outcome, err := s.Investigate(context.Background(), "check health of staging-es cluster")
	require.NoError(t, err)
	assert.True(t, outcome.Complete)

	last := mock.Calls()[1].Messages
	content := last[len(last)-1].ToolResult[0].Content
	assert.Contains(t, content, "cluster=staging-es")
	// The secret placeholder is echoed, never the value.
	assert.NotContains(t, content, "operator-key")
}

func TestInvestigateResolutionMissIsDataNotFatal(t *testing.T) {
	catalog := `
toolsets:
  - name: test/es
    tools:
      - name: es_health
        command: echo ok
        parameters:
          instance_name:
            type: string
`
	registry, err := toolset.Load(toolset.Sources{Builtin: [][]byte{[]byte(catalog)}}, "0.1.0")
	require.NoError(t, err)

	mock := provider.NewMockProvider(
		provider.ToolCallResponse(toolCall("c1", "es_health", `{"instance_name":"nope"}`)),
		provider.TextResponse("cannot verify"),
	)
	s, err := NewSession(Deps{
		Provider: mock,
		Registry: registry,
		Invoker:  invoker.New(nil, 0),
		Resolver: instance.NewResolver(nil),
		MaxSteps: 5,
	})
	require.NoError(t, err)

	_, err = s.Investigate(context.Background(), "check es")
	require.NoError(t, err)

	last := mock.Calls()[1].Messages
	result := last[len(last)-1].ToolResult[0]
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "could not resolve instance")
}

func TestCheckParsesVerdict(t *testing.T) {
	mock := provider.NewMockProvider(
		provider.TextResponse(`{"passed": true, "rationale": "all pods ready"}`),
	)
	s := newTestSession(t, mock, 5)

	result, err := s.Check(context.Background(), "are all pods ready?")
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, "all pods ready", result.Rationale)
}

func TestCheckRetriesOnceOnParseFailure(t *testing.T) {
	mock := provider.NewMockProvider(
		provider.TextResponse("everything looks fine to me!"),
		provider.TextResponse(`{"passed": false, "rationale": "disk 97% full"}`),
	)
	s := newTestSession(t, mock, 5)

	result, err := s.Check(context.Background(), "is disk usage ok?")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Len(t, mock.Calls(), 2)
	// The retry turn offers no tools.
	assert.Empty(t, mock.Calls()[1].Tools)
}

func TestCheckHardErrorAfterFailedRetry(t *testing.T) {
	mock := provider.NewMockProvider(
		provider.TextResponse("no json here"),
		provider.TextResponse("still no json"),
	)
	s := newTestSession(t, mock, 5)

	_, err := s.Check(context.Background(), "is it ok?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after retry")
}

func TestParseCheckResult(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		passed  bool
		wantErr bool
	}{
		{"bare object", `{"passed": true, "rationale": "ok"}`, true, false},
		{"fenced", "```json\n{\"passed\": false, \"rationale\": \"bad\"}\n```", false, false},
		{"surrounding prose", `Verdict: {"passed": true, "rationale": "fine"} as requested`, true, false},
		{"missing passed", `{"rationale": "no verdict"}`, false, true},
		{"no object", `all good`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := parseCheckResult(tt.text)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.passed, result.Passed)
		})
	}
}

func TestExtractWindowDefault(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ExtractWindow("why is checkout slow?", now)
	assert.Equal(t, now.Add(-time.Hour), w.Start)
	assert.Equal(t, now, w.End)
}

func TestExtractWindowRelative(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := ExtractWindow("errors started 3 hours ago in payments", now)
	assert.WithinDuration(t, now.Add(-3*time.Hour), w.Start, time.Minute)
	assert.Equal(t, now, w.End)
}

func TestFillParamDefaults(t *testing.T) {
	s := newTestSession(t, provider.NewMockProvider(), 1)
	s.window = Window{
		Start: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	tool := &toolset.ResolvedTool{
		Definition: &toolset.ToolDefinition{
			Name: "query_logs",
			Parameters: map[string]toolset.ParameterSpec{
				"query":      {Type: "string", Required: true},
				"limit":      {Type: "integer", Default: 100},
				"start_time": {Type: "string"},
				"end_time":   {Type: "string"},
			},
		},
		Toolset: &toolset.Toolset{Name: "test/logs"},
	}

	params := s.fillParamDefaults(tool, map[string]interface{}{"query": "error"})
	assert.Equal(t, "error", params["query"])
	assert.Equal(t, 100, params["limit"])
	assert.Equal(t, "2025-06-01T09:00:00Z", params["start_time"])
	assert.Equal(t, "2025-06-01T12:00:00Z", params["end_time"])

	// Model-supplied values win over defaults and the window.
	params = s.fillParamDefaults(tool, map[string]interface{}{
		"query": "error", "limit": 5, "start_time": "2025-06-01T11:30:00Z",
	})
	assert.Equal(t, 5, params["limit"])
	assert.Equal(t, "2025-06-01T11:30:00Z", params["start_time"])
}

func TestSystemPromptMentionsWindowAndInstances(t *testing.T) {
	resolver := instance.NewResolver([]config.InstanceConfig{
		{ID: "prod-es", Type: "elasticsearch", Environment: "production", Enabled: true},
	})
	s, err := NewSession(Deps{
		Provider: provider.NewMockProvider(),
		Registry: testRegistry(t),
		Invoker:  invoker.New(nil, 0),
		Resolver: resolver,
		MaxSteps: 1,
	})
	require.NoError(t, err)

	prompt := s.systemPrompt(context.Background(), investigatorPersona, "check prod-es now")
	assert.Contains(t, prompt, "prod-es: elasticsearch (production)")
	assert.Contains(t, prompt, "focus on the window")
}
