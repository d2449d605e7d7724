package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inquest-dev/inquest/internal/logging"
)

const Version = "0.1.0"

var (
	logLevelFlags []string // Supports multiple --log-level flags
	configPath    string
)

var rootCmd = &cobra.Command{
	Use:   "inquest",
	Short: "Inquest - LLM-driven investigation assistant",
	Long: `Inquest investigates production systems by letting a language model
call curated diagnostic tools: local commands from tool catalogs and
remote tool servers over stdio, streamable-http, or sse transports.`,
	Version: Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Supports per-package log levels: --log-level debug --log-level remote.manager=debug
	rootCmd.PersistentFlags().StringSliceVar(&logLevelFlags, "log-level",
		[]string{"info"},
		"Log level for packages. Use 'default=level' for default, or 'package.name=level' for per-package.\n"+
			"Examples: --log-level debug (all), --log-level remote.manager=debug --log-level invoker=warn")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the engine configuration file (YAML)")
}

// setupLog initializes the logging system with parsed log level flags.
// Priority: CLI flags > environment variables > default.
func setupLog(flags []string) error {
	defaultLevel, packageLevels, err := parseLogLevelFlags(flags)
	if err != nil {
		return err
	}
	return logging.Initialize(defaultLevel, packageLevels)
}

// parseLogLevelFlags parses CLI flags and LOG_LEVEL_* environment
// variables (package name uppercased, dots to underscores). CLI flags
// win over environment variables.
func parseLogLevelFlags(flags []string) (string, map[string]string, error) {
	result := make(map[string]string)

	for _, envPair := range os.Environ() {
		if strings.HasPrefix(envPair, "LOG_LEVEL_") {
			parts := strings.SplitN(envPair, "=", 2)
			if len(parts) != 2 {
				continue
			}
			// LOG_LEVEL_REMOTE_MANAGER=debug -> remote.manager
			result[convertEnvKeyToPackageName(parts[0])] = parts[1]
		}
	}

	for _, flag := range flags {
		if !strings.Contains(flag, "=") {
			result["default"] = flag
			continue
		}
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) == 2 {
			result[parts[0]] = parts[1]
		}
	}

	defaultLevel := "info"
	if level, exists := result["default"]; exists {
		defaultLevel = level
		delete(result, "default")
	}

	if err := validateLogLevel(defaultLevel); err != nil {
		return "", nil, err
	}
	for pkg, level := range result {
		if err := validateLogLevel(level); err != nil {
			return "", nil, fmt.Errorf("invalid log level for package %q: %v", pkg, err)
		}
	}
	return defaultLevel, result, nil
}

// convertEnvKeyToPackageName converts LOG_LEVEL_REMOTE_MANAGER -> remote.manager
func convertEnvKeyToPackageName(envKey string) string {
	name := strings.TrimPrefix(envKey, "LOG_LEVEL_")
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

func validateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error, fatal)", level)
	}
	return nil
}
