package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
schema_version: v1
model:
  name: claude-sonnet-4-5-20250929
  fast_name: claude-3-5-haiku-20241022
engine:
  max_steps: 12
remote_servers:
  timeline:
    description: Timeline query server
    config:
      mode: streamable-http
      url: http://localhost:8428/mcp
instances:
  - name: prod-es
    type: elasticsearch
    environment: production
    enabled: true
  - name: staging-es
    type: elasticsearch
    environment: staging
    enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Engine.MaxSteps)
	assert.Equal(t, DefaultMaxParallelTools, cfg.Engine.MaxParallelTools)
	assert.Equal(t, DefaultToolTimeoutSeconds, cfg.Engine.ToolTimeoutSeconds)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Model.FastName)
	require.Contains(t, cfg.RemoteServers, "timeline")
	assert.Equal(t, TransportStreamableHTTP, cfg.RemoteServers["timeline"].Config.Mode)
	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, "prod-es", cfg.Instances[0].EffectiveID())
}

func TestLoadRejectsUnsupportedSchemaVersion(t *testing.T) {
	path := writeConfig(t, `
schema_version: v2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema_version")
}

func TestLoadRejectsDottedServerName(t *testing.T) {
	path := writeConfig(t, `
schema_version: v1
remote_servers:
  time.line:
    config:
      mode: streamable-http
      url: http://h:8000
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not contain")
}

func TestLoadRejectsDuplicateInstanceIDs(t *testing.T) {
	path := writeConfig(t, `
schema_version: v1
instances:
  - name: prod-es
    type: elasticsearch
  - id: prod-es
    name: other
    type: elasticsearch
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate instance id")
}

func TestNormalizeLegacyFlatURL(t *testing.T) {
	server := &RemoteServerConfig{URL: "http://legacy:9000/mcp"}

	moved := server.Normalize()
	assert.True(t, moved)
	assert.Equal(t, "http://legacy:9000/mcp", server.Config.URL)
	assert.Equal(t, TransportStreamableHTTP, server.Config.Mode)
	assert.Empty(t, server.URL)

	// Re-normalizing an already-nested config is a no-op.
	moved = server.Normalize()
	assert.False(t, moved)
	assert.Equal(t, "http://legacy:9000/mcp", server.Config.URL)
}

func TestNormalizeNestedConfigUntouched(t *testing.T) {
	server := &RemoteServerConfig{
		Config: RemoteConnectionConfig{
			Mode: TransportSSE,
			URL:  "http://h:8000/sse",
		},
	}
	assert.False(t, server.Normalize())
	assert.Equal(t, "http://h:8000/sse", server.Config.URL)
}

func TestLoadEmitsSingleMigrationWarningPerServer(t *testing.T) {
	path := writeConfig(t, `
schema_version: v1
remote_servers:
  legacy:
    url: http://legacy:9000/mcp
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	server := cfg.RemoteServers["legacy"]
	require.NotNil(t, server)
	assert.Equal(t, "http://legacy:9000/mcp", server.Config.URL)
	assert.Empty(t, server.URL)
}

func TestRemoteServerValidate(t *testing.T) {
	tests := []struct {
		name    string
		server  RemoteServerConfig
		wantErr string
	}{
		{
			name:   "stdio requires command",
			server: RemoteServerConfig{Config: RemoteConnectionConfig{Mode: TransportStdio}},

			wantErr: "requires a command",
		},
		{
			name:    "sse requires url",
			server:  RemoteServerConfig{Config: RemoteConnectionConfig{Mode: TransportSSE}},
			wantErr: "requires a url",
		},
		{
			name:    "unknown mode",
			server:  RemoteServerConfig{Config: RemoteConnectionConfig{Mode: "grpc"}},
			wantErr: "unknown transport mode",
		},
		{
			name:    "missing mode",
			server:  RemoteServerConfig{},
			wantErr: "config.mode is required",
		},
		{
			name: "valid stdio",
			server: RemoteServerConfig{Config: RemoteConnectionConfig{
				Mode:    TransportStdio,
				Command: "mcp-server-kubernetes",
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.server.Validate("test")
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
