// Package config defines the Inquest engine configuration file format and
// its koanf-based loader. A single YAML file declares model settings,
// custom tool catalogs, remote tool servers, and service instances.
package config

import (
	"fmt"
	"strings"
)

// SchemaVersion is the config schema version this engine understands.
const SchemaVersion = "v1"

// Config is the top-level engine configuration.
//
// Example YAML structure:
//
//	schema_version: v1
//	model:
//	  name: claude-sonnet-4-5-20250929
//	  fast_name: claude-3-5-haiku-20241022
//	engine:
//	  max_steps: 20
//	catalogs:
//	  - /etc/inquest/toolsets.yaml
//	remote_servers:
//	  timeline:
//	    config:
//	      mode: streamable-http
//	      url: http://localhost:8428/mcp
//	instances:
//	  - name: prod-es
//	    type: elasticsearch
//	    environment: production
type Config struct {
	// SchemaVersion is the explicit config schema version (e.g., "v1").
	SchemaVersion string `yaml:"schema_version"`

	// Model configures the primary and fast language models.
	Model ModelConfig `yaml:"model"`

	// Engine configures investigation loop limits and defaults.
	Engine EngineConfig `yaml:"engine"`

	// Catalogs lists operator-supplied custom toolset catalog files.
	Catalogs []string `yaml:"catalogs"`

	// RemoteServers maps server name to its declaration.
	RemoteServers map[string]*RemoteServerConfig `yaml:"remote_servers"`

	// Instances declares backing service instances for instance-scoped tools.
	Instances []InstanceConfig `yaml:"instances"`

	// AuditLogPath is where the session audit log (JSONL) is written.
	// If empty, a per-session default under ~/.inquest/sessions is used.
	AuditLogPath string `yaml:"audit_log_path"`

	// Tracing configures the OTLP trace exporter.
	Tracing TracingConfig `yaml:"tracing"`
}

// ModelConfig configures the language models used by the engine.
type ModelConfig struct {
	// Name is the primary reasoning model identifier.
	Name string `yaml:"name"`

	// FastName is the secondary model used only for output summarization.
	// If empty, the llm_summarize transformer is inactive.
	FastName string `yaml:"fast_name"`

	// MaxTokens is the generation cap per model call.
	MaxTokens int `yaml:"max_tokens"`
}

// EngineConfig configures the investigation loop.
type EngineConfig struct {
	// MaxSteps is the model-call budget per investigation.
	MaxSteps int `yaml:"max_steps"`

	// MaxParallelTools bounds the worker pool for tool calls within one step.
	MaxParallelTools int `yaml:"max_parallel_tools"`

	// ToolTimeoutSeconds is the default per-tool execution timeout.
	// Individual tools may override it in their catalog entry.
	ToolTimeoutSeconds int `yaml:"tool_timeout_seconds"`
}

// InstanceConfig declares one backing service instance.
type InstanceConfig struct {
	// ID is the unique instance identifier (e.g., "es-prod-1").
	// If empty, Name is used as the identifier.
	ID string `yaml:"id"`

	// Name is the display name matched against request keywords.
	Name string `yaml:"name"`

	// Type is the service type (e.g., "elasticsearch", "prometheus").
	// Multiple instances of the same Type can exist with different Names.
	Type string `yaml:"type"`

	// Environment is a label like "production" or "staging".
	Environment string `yaml:"environment"`

	// Tags are free-form labels matched against request keywords.
	Tags []string `yaml:"tags"`

	// Enabled marks the instance as active. Disabled instances never resolve.
	Enabled bool `yaml:"enabled"`

	// Config holds type-specific settings, including credential references
	// (e.g., {"url": "...", "api_key_env": "ES_PROD_API_KEY"}).
	Config map[string]interface{} `yaml:"config"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	TLSCAPath string `yaml:"tls_ca_path"`
	Insecure  bool   `yaml:"tls_insecure"`
}

// Defaults used when the corresponding config keys are absent.
const (
	DefaultMaxSteps           = 20
	DefaultMaxParallelTools   = 4
	DefaultToolTimeoutSeconds = 60
	DefaultMaxTokens          = 4096
)

// ApplyDefaults fills zero-valued engine settings with defaults.
func (c *Config) ApplyDefaults() {
	if c.Engine.MaxSteps == 0 {
		c.Engine.MaxSteps = DefaultMaxSteps
	}
	if c.Engine.MaxParallelTools == 0 {
		c.Engine.MaxParallelTools = DefaultMaxParallelTools
	}
	if c.Engine.ToolTimeoutSeconds == 0 {
		c.Engine.ToolTimeoutSeconds = DefaultToolTimeoutSeconds
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = DefaultMaxTokens
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.SchemaVersion != SchemaVersion {
		return NewConfigError(fmt.Sprintf(
			"unsupported schema_version: %q (expected %q)", c.SchemaVersion, SchemaVersion))
	}

	for name, server := range c.RemoteServers {
		if server == nil {
			return NewConfigError(fmt.Sprintf("remote_servers[%s]: declaration is empty", name))
		}
		// Remote tools are addressed as "server.tool"; a dot in the server
		// name would make those names ambiguous.
		if strings.Contains(name, ".") {
			return NewConfigError(fmt.Sprintf("remote_servers[%s]: server name must not contain %q", name, "."))
		}
		if err := server.Validate(name); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Instances))
	for i, inst := range c.Instances {
		if inst.Name == "" {
			return NewConfigError(fmt.Sprintf("instances[%d]: name is required", i))
		}
		if inst.Type == "" {
			return NewConfigError(fmt.Sprintf("instances[%d] (%s): type is required", i, inst.Name))
		}
		id := inst.EffectiveID()
		if seen[id] {
			return NewConfigError(fmt.Sprintf("instances[%d]: duplicate instance id %q", i, id))
		}
		seen[id] = true
	}

	return nil
}

// EffectiveID returns the explicit ID, or the Name when no ID is set.
func (ic *InstanceConfig) EffectiveID() string {
	if ic.ID != "" {
		return ic.ID
	}
	return ic.Name
}

// ConfigError represents a configuration validation failure. These are
// fatal at load time and reported to the operator.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string) *ConfigError {
	return &ConfigError{Message: message}
}
