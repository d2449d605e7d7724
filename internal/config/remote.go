package config

import (
	"fmt"
)

// Transport modes for remote tool servers.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"

	// TransportSSE is deprecated but retained for compatibility with older
	// server deployments.
	TransportSSE = "sse"
)

// RemoteServerConfig declares one remote tool server.
//
// The connection settings live in the nested Config object. A legacy flat
// top-level `url` is accepted for compatibility and rewritten into
// Config.URL by Normalize.
type RemoteServerConfig struct {
	// Description is shown to operators in toolset listings.
	Description string `yaml:"description"`

	// LLMInstructions is extra guidance handed to the model alongside the
	// server's discovered tools.
	LLMInstructions string `yaml:"llm_instructions"`

	// URL is the deprecated flat form of Config.URL. Cleared by Normalize.
	URL string `yaml:"url"`

	// Config holds the normalized connection settings.
	Config RemoteConnectionConfig `yaml:"config"`
}

// RemoteConnectionConfig holds transport-specific connection settings.
type RemoteConnectionConfig struct {
	// Mode is one of stdio, streamable-http, or sse.
	Mode string `yaml:"mode"`

	// URL is the endpoint for the network transports.
	URL string `yaml:"url"`

	// Headers are sent with every request on the network transports.
	Headers map[string]string `yaml:"headers"`

	// Command, Args, and Env configure the stdio subprocess.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Normalize rewrites a legacy flat URL into the nested Config form.
// Returns true when a rewrite happened so the caller can emit the one-time
// migration warning. Re-normalizing an already-nested config is a no-op.
func (s *RemoteServerConfig) Normalize() bool {
	if s.URL == "" {
		return false
	}
	if s.Config.URL == "" {
		s.Config.URL = s.URL
	}
	if s.Config.Mode == "" {
		s.Config.Mode = TransportStreamableHTTP
	}
	s.URL = ""
	return true
}

// Validate checks the declaration. Call Normalize first.
func (s *RemoteServerConfig) Validate(name string) error {
	switch s.Config.Mode {
	case TransportStdio:
		if s.Config.Command == "" {
			return NewConfigError(fmt.Sprintf(
				"remote_servers[%s]: stdio mode requires a command", name))
		}
	case TransportStreamableHTTP, TransportSSE:
		if s.Config.URL == "" && s.URL == "" {
			return NewConfigError(fmt.Sprintf(
				"remote_servers[%s]: %s mode requires a url", name, s.Config.Mode))
		}
	case "":
		return NewConfigError(fmt.Sprintf(
			"remote_servers[%s]: config.mode is required (stdio, streamable-http, or sse)", name))
	default:
		return NewConfigError(fmt.Sprintf(
			"remote_servers[%s]: unknown transport mode %q", name, s.Config.Mode))
	}
	return nil
}
