package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-dev/inquest/internal/config"
)

func TestSSEEndpointSuffix(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"bare host", "http://localhost:9000", "http://localhost:9000/sse"},
		{"already suffixed", "http://localhost:9000/sse", "http://localhost:9000/sse"},
		{"trailing slash", "http://localhost:9000/", "http://localhost:9000/sse"},
		{"suffixed with slash", "http://localhost:9000/sse/", "http://localhost:9000/sse/"},
		{"nested path", "http://localhost:9000/mcp", "http://localhost:9000/mcp/sse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sseEndpoint(tt.url))
			// Appending is idempotent.
			assert.Equal(t, tt.want, sseEndpoint(sseEndpoint(tt.url)))
		})
	}
}

func TestSplitName(t *testing.T) {
	server, tool, ok := SplitName("timeline.query_timeline")
	require.True(t, ok)
	assert.Equal(t, "timeline", server)
	assert.Equal(t, "query_timeline", tool)

	// Server-local names may themselves contain dots.
	server, tool, ok = SplitName("timeline.graph.query")
	require.True(t, ok)
	assert.Equal(t, "timeline", server)
	assert.Equal(t, "graph.query", tool)

	for _, bad := range []string{"", "noserver", ".tool", "server."} {
		_, _, ok := SplitName(bad)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestNamespacedNameRoundTrip(t *testing.T) {
	name := NamespacedName("srv", "tool")
	server, tool, ok := SplitName(name)
	require.True(t, ok)
	assert.Equal(t, "srv", server)
	assert.Equal(t, "tool", tool)
}

func TestConnStateMachine(t *testing.T) {
	conn := NewServerConn("svc", config.RemoteConnectionConfig{
		Mode: "bogus-transport",
	})

	state, lastErr := conn.State()
	assert.Equal(t, StateUnconfigured, state)
	assert.NoError(t, lastErr)

	err := conn.Connect(context.Background())
	require.Error(t, err)

	state, lastErr = conn.State()
	assert.Equal(t, StateDegraded, state)
	assert.Error(t, lastErr)

	require.NoError(t, conn.Close())
	state, _ = conn.State()
	assert.Equal(t, StateClosed, state)

	// A closed connection refuses to reconnect.
	assert.Error(t, conn.Connect(context.Background()))
}

type recordingDisabler struct {
	name   string
	reason string
}

func (r *recordingDisabler) SetDisabled(name, reason string) {
	r.name = name
	r.reason = reason
}

func TestManagerDegradesFailingServer(t *testing.T) {
	disabler := &recordingDisabler{}
	m := NewManager(map[string]*config.RemoteServerConfig{
		"broken": {
			Config: config.RemoteConnectionConfig{Mode: "bogus-transport"},
		},
	}, disabler)

	// Listing skips the degraded server instead of failing.
	tools := m.ListTools(context.Background())
	assert.Empty(t, tools)
	assert.Equal(t, "broken", disabler.name)
	assert.Contains(t, disabler.reason, "connect failed")

	// Calls against the degraded server report the stored error.
	_, err := m.CallTool(context.Background(), "broken.sometool", nil)
	require.Error(t, err)

	_, err = m.CallTool(context.Background(), "missing.sometool", nil)
	assert.ErrorContains(t, err, "unknown remote server")

	_, err = m.CallTool(context.Background(), "malformed", nil)
	assert.ErrorContains(t, err, "malformed remote tool name")

	require.NoError(t, m.Stop(context.Background()))
}

func TestMergeInstructions(t *testing.T) {
	assert.Equal(t, "handshake", mergeInstructions("", "handshake"))
	assert.Equal(t, "declared", mergeInstructions("declared", ""))
	assert.Equal(t, "declared\nhandshake", mergeInstructions("declared", "handshake"))
	assert.Empty(t, mergeInstructions("", ""))
}

func TestInstructionsIncludeDeclaredGuidance(t *testing.T) {
	m := NewManager(map[string]*config.RemoteServerConfig{
		"timeline": {
			LLMInstructions: "Prefer narrow time windows.",
			Config:          config.RemoteConnectionConfig{Mode: config.TransportStreamableHTTP, URL: "http://h:8000"},
		},
	}, nil)

	conn, ok := m.Conn("timeline")
	require.True(t, ok)
	conn.state = StateConnected
	conn.instructions = "Timestamps are UTC."

	instr := m.Instructions(context.Background())
	assert.Equal(t, "Prefer narrow time windows.\nTimestamps are UTC.", instr["timeline"])
}

func TestInstructionsSkipUnreachableServer(t *testing.T) {
	m := NewManager(map[string]*config.RemoteServerConfig{
		"broken": {
			LLMInstructions: "Never shown while degraded.",
			Config:          config.RemoteConnectionConfig{Mode: "bogus-transport"},
		},
	}, nil)

	instr := m.Instructions(context.Background())
	assert.Empty(t, instr)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unconfigured", StateUnconfigured.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "degraded", StateDegraded.String())
	assert.Equal(t, "closed", StateClosed.String())
}
