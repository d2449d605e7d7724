package remote

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
)

// ConnState tracks the lifecycle of one server connection.
type ConnState int

const (
	StateUnconfigured ConnState = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// RemoteTool is a tool discovered on a connected server. Name is the
// server-local name; the manager namespaces it for listings.
type RemoteTool struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// CallResult carries the text payload of a remote tool call. IsError
// reflects the server-side tool error flag, not a transport failure.
type CallResult struct {
	Text    string
	IsError bool
}

// ServerConn is one long-lived connection to a remote tool server. It is
// safe for concurrent use; the underlying MCP client serializes requests
// as needed per transport.
type ServerConn struct {
	name string
	cfg  config.RemoteConnectionConfig

	mu      sync.Mutex
	client  *client.Client
	state   ConnState
	lastErr error

	instructions string
	logger       *logging.Logger
}

// NewServerConn prepares a connection in the unconfigured state. No
// network or subprocess activity happens until Connect.
func NewServerConn(name string, cfg config.RemoteConnectionConfig) *ServerConn {
	return &ServerConn{
		name:   name,
		cfg:    cfg,
		state:  StateUnconfigured,
		logger: logging.GetLogger("remote." + name),
	}
}

// sseEndpoint appends the /sse suffix unless the URL already ends in it.
func sseEndpoint(url string) string {
	if strings.HasSuffix(strings.TrimRight(url, "/"), "/sse") {
		return url
	}
	return strings.TrimRight(url, "/") + "/sse"
}

func (c *ServerConn) buildClient() (*client.Client, error) {
	switch c.cfg.Mode {
	case config.TransportStdio:
		env := make([]string, 0, len(c.cfg.Env))
		for k, v := range c.cfg.Env {
			env = append(env, k+"="+v)
		}
		return client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	case config.TransportSSE:
		return client.NewSSEMCPClient(sseEndpoint(c.cfg.URL), transport.WithHeaders(c.cfg.Headers))
	case config.TransportStreamableHTTP:
		return client.NewStreamableHttpClient(c.cfg.URL, transport.WithHTTPHeaders(c.cfg.Headers))
	default:
		return nil, fmt.Errorf("unsupported transport mode %q", c.cfg.Mode)
	}
}

// Connect builds the transport, starts it and runs the MCP initialize
// handshake. Failures leave the connection degraded; callers decide how
// to surface that (the manager disables the server's toolset).
func (c *ServerConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected {
		return nil
	}
	if c.state == StateClosed {
		return fmt.Errorf("server %s: connection closed", c.name)
	}

	c.state = StateConnecting
	c.logger.InfoWithFields("connecting to remote server", logging.Field("mode", c.cfg.Mode))

	mcpClient, err := c.buildClient()
	if err != nil {
		return c.degrade(fmt.Errorf("server %s: %w", c.name, err))
	}

	if err := mcpClient.Start(ctx); err != nil {
		mcpClient.Close()
		return c.degrade(fmt.Errorf("server %s: transport start: %w", c.name, err))
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "inquest",
		Version: "0.1.0",
	}
	initResult, err := mcpClient.Initialize(ctx, initReq)
	if err != nil {
		mcpClient.Close()
		return c.degrade(fmt.Errorf("server %s: initialize: %w", c.name, err))
	}

	c.client = mcpClient
	c.instructions = initResult.Instructions
	c.state = StateConnected
	c.lastErr = nil
	c.logger.InfoWithFields("remote server connected",
		logging.Field("server_name", initResult.ServerInfo.Name),
		logging.Field("server_version", initResult.ServerInfo.Version),
	)
	return nil
}

func (c *ServerConn) degrade(err error) error {
	c.state = StateDegraded
	c.lastErr = err
	c.client = nil
	c.logger.ErrorWithErr("remote server degraded", err)
	return err
}

// State returns the current connection state and the last error, if any.
func (c *ServerConn) State() (ConnState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Instructions returns the server-provided usage instructions from the
// initialize handshake, empty until connected.
func (c *ServerConn) Instructions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instructions
}

// ListTools fetches the server's tool catalog.
func (c *ServerConn) ListTools(ctx context.Context) ([]RemoteTool, error) {
	c.mu.Lock()
	mcpClient := c.client
	c.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("server %s: not connected", c.name)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("server %s: list tools: %w", c.name, err)
	}

	tools := make([]RemoteTool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := map[string]interface{}{
			"type":       t.InputSchema.Type,
			"properties": t.InputSchema.Properties,
		}
		if len(t.InputSchema.Required) > 0 {
			schema["required"] = t.InputSchema.Required
		}
		tools = append(tools, RemoteTool{
			Server:      c.name,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// CallTool invokes a tool by its server-local name and flattens the text
// content blocks of the response.
func (c *ServerConn) CallTool(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	c.mu.Lock()
	mcpClient := c.client
	c.mu.Unlock()
	if mcpClient == nil {
		return nil, fmt.Errorf("server %s: not connected", c.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("server %s: call %s: %w", c.name, name, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	return &CallResult{
		Text:    strings.Join(parts, "\n"),
		IsError: result.IsError,
	}, nil
}

// Close tears down the connection. For stdio this terminates the owned
// subprocess.
func (c *ServerConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}
