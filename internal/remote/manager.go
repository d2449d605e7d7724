package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
)

// Disabler receives degraded-server notifications so listings stop
// offering that server's tools. Satisfied by the toolset registry.
type Disabler interface {
	SetDisabled(name, reason string)
}

// Manager owns one ServerConn per configured remote server. Connections
// are established lazily on first use; registry load never touches the
// network.
type Manager struct {
	mu       sync.Mutex
	conns    map[string]*ServerConn
	declared map[string]string
	disabler Disabler
	logger   *logging.Logger
}

// NewManager builds connections for the given server declarations. The
// declarations must already be normalized.
func NewManager(servers map[string]*config.RemoteServerConfig, disabler Disabler) *Manager {
	conns := make(map[string]*ServerConn, len(servers))
	declared := make(map[string]string, len(servers))
	for name, server := range servers {
		conns[name] = NewServerConn(name, server.Config)
		declared[name] = server.LLMInstructions
	}
	return &Manager{
		conns:    conns,
		declared: declared,
		disabler: disabler,
		logger:   logging.GetLogger("remote.manager"),
	}
}

// NamespacedName joins a server and a server-local tool name into the
// engine-wide tool name.
func NamespacedName(server, tool string) string {
	return server + "." + tool
}

// SplitName splits an engine-wide remote tool name into server and
// server-local tool name.
func SplitName(namespaced string) (server, tool string, ok bool) {
	server, tool, ok = strings.Cut(namespaced, ".")
	if server == "" || tool == "" {
		return "", "", false
	}
	return server, tool, ok
}

// Conn returns the connection for a server name.
func (m *Manager) Conn(name string) (*ServerConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[name]
	return conn, ok
}

// ensureConnected connects the server if needed. A connect failure
// degrades the server and disables its toolset; other servers are
// unaffected.
func (m *Manager) ensureConnected(ctx context.Context, conn *ServerConn) error {
	state, lastErr := conn.State()
	switch state {
	case StateConnected:
		return nil
	case StateDegraded:
		return lastErr
	case StateClosed:
		return fmt.Errorf("server %s: connection closed", conn.name)
	}

	if err := conn.Connect(ctx); err != nil {
		if m.disabler != nil {
			m.disabler.SetDisabled(conn.name, fmt.Sprintf("connect failed: %v", err))
		}
		return err
	}
	return nil
}

// ListTools returns the namespaced tools of every reachable server,
// sorted by name. Degraded servers are skipped, not fatal.
func (m *Manager) ListTools(ctx context.Context) []RemoteTool {
	m.mu.Lock()
	conns := make([]*ServerConn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	var out []RemoteTool
	for _, conn := range conns {
		if err := m.ensureConnected(ctx, conn); err != nil {
			continue
		}
		tools, err := conn.ListTools(ctx)
		if err != nil {
			m.logger.WarnWithFields("remote tool listing failed",
				logging.Field("server", conn.name),
				logging.Field("error", err.Error()),
			)
			continue
		}
		for _, tool := range tools {
			tool.Name = NamespacedName(conn.name, tool.Name)
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool invokes a namespaced remote tool.
func (m *Manager) CallTool(ctx context.Context, namespaced string, args map[string]interface{}) (*CallResult, error) {
	server, tool, ok := SplitName(namespaced)
	if !ok {
		return nil, fmt.Errorf("malformed remote tool name %q, want server.tool", namespaced)
	}
	conn, found := m.Conn(server)
	if !found {
		return nil, fmt.Errorf("unknown remote server %q", server)
	}
	if err := m.ensureConnected(ctx, conn); err != nil {
		return nil, err
	}
	return conn.CallTool(ctx, tool, args)
}

// Instructions collects per-server usage guidance for the system prompt,
// keyed by server name: the operator's declared llm_instructions followed
// by whatever the server reported in its initialize handshake. Unreachable
// servers contribute nothing.
func (m *Manager) Instructions(ctx context.Context) map[string]string {
	m.mu.Lock()
	conns := make([]*ServerConn, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	out := make(map[string]string)
	for _, conn := range conns {
		if err := m.ensureConnected(ctx, conn); err != nil {
			continue
		}
		if merged := mergeInstructions(m.declared[conn.name], conn.Instructions()); merged != "" {
			out[conn.name] = merged
		}
	}
	return out
}

// mergeInstructions joins the operator-declared guidance with the
// server's handshake instructions, either of which may be empty.
func mergeInstructions(declared, handshake string) string {
	switch {
	case declared == "":
		return handshake
	case handshake == "":
		return declared
	default:
		return declared + "\n" + handshake
	}
}

// Name implements lifecycle.Component.
func (m *Manager) Name() string { return "remote-manager" }

// Start implements lifecycle.Component. Connections stay lazy; there is
// nothing to do at startup.
func (m *Manager) Start(ctx context.Context) error { return nil }

// Stop closes every connection, terminating stdio subprocesses.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, conn := range m.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", name, err)
		}
	}
	return firstErr
}
