package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider replays a scripted sequence of responses. It backs the
// engine tests and the offline demo mode.
type MockProvider struct {
	mu        sync.Mutex
	responses []*Response
	calls     []ChatCall
	next      int
}

// ChatCall records one Chat invocation for assertions.
type ChatCall struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
}

// NewMockProvider returns a provider that yields the given responses in
// order. Running past the script is an error.
func NewMockProvider(responses ...*Response) *MockProvider {
	return &MockProvider{responses: responses}
}

func (m *MockProvider) Chat(_ context.Context, systemPrompt string, messages []Message, tools []ToolDefinition) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, ChatCall{
		SystemPrompt: systemPrompt,
		Messages:     append([]Message(nil), messages...),
		Tools:        tools,
	})

	if m.next >= len(m.responses) {
		return nil, fmt.Errorf("mock provider: no response scripted for call %d", m.next+1)
	}
	resp := m.responses[m.next]
	m.next++
	return resp, nil
}

func (m *MockProvider) Name() string  { return "mock" }
func (m *MockProvider) Model() string { return "mock-model" }

// Calls returns the recorded Chat invocations.
func (m *MockProvider) Calls() []ChatCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatCall(nil), m.calls...)
}

// TextResponse builds an end-turn response with only text content.
func TextResponse(text string) *Response {
	return &Response{Content: text, StopReason: StopReasonEndTurn}
}

// ToolCallResponse builds a tool-use response with the given calls.
func ToolCallResponse(calls ...ToolUseBlock) *Response {
	return &Response{ToolCalls: calls, StopReason: StopReasonToolUse}
}
