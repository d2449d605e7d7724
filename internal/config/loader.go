package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/inquest-dev/inquest/internal/logging"
)

// Load reads and validates the engine configuration file using koanf.
//
// Error cases:
//   - File not found or cannot be read
//   - Invalid YAML syntax
//   - Schema validation failure (unsupported version, missing required
//     fields, duplicate instance ids)
//
// Legacy flat remote-server URLs are rewritten into the nested form with a
// single migration warning per declaration.
func Load(filepath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(filepath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", filepath, err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", filepath, err)
	}

	logger := logging.GetLogger("config")
	for name, server := range cfg.RemoteServers {
		if server != nil && server.Normalize() {
			logger.Warn("remote_servers[%s]: top-level url is deprecated, moved to config.url; update your configuration", name)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", filepath, err)
	}

	return &cfg, nil
}
