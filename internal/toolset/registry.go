package toolset

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	goversion "github.com/hashicorp/go-version"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
)

// Sources describes where the registry loads its toolsets from.
type Sources struct {
	// Builtin holds the embedded builtin catalogs. Defaults to the
	// catalogs compiled into the engine when nil.
	Builtin [][]byte

	// CatalogPaths are operator-supplied custom catalog files.
	CatalogPaths []string

	// RemoteServers are synthesized into remote-typed toolsets so remote
	// tools participate in the same enable/disable and listing machinery.
	RemoteServers map[string]*config.RemoteServerConfig
}

// Registry holds the merged, immutable set of toolsets for one engine
// process. It is replaced wholesale on an explicit refresh.
type Registry struct {
	mu       sync.RWMutex
	toolsets map[string]*Toolset
	tools    map[string]*ResolvedTool // local tools only, flat by name
	logger   *logging.Logger
}

// Load builds a registry from the given sources. Name collisions between
// builtin and custom origins are load-time configuration errors; remote
// toolsets are namespaced separately and never collide with local ones.
// engineVersion gates toolsets that declare a required_version.
func Load(sources Sources, engineVersion string) (*Registry, error) {
	logger := logging.GetLogger("toolset.registry")

	r := &Registry{
		toolsets: make(map[string]*Toolset),
		tools:    make(map[string]*ResolvedTool),
		logger:   logger,
	}

	builtin := sources.Builtin
	if builtin == nil {
		builtin = BuiltinCatalogs()
	}

	for _, raw := range builtin {
		var catalog CatalogFile
		if err := yamlv3.Unmarshal(raw, &catalog); err != nil {
			return nil, config.NewConfigError(fmt.Sprintf("invalid builtin catalog: %v", err))
		}
		for _, ts := range catalog.Toolsets {
			ts.Origin = OriginBuiltin
			if err := r.add(ts); err != nil {
				return nil, err
			}
		}
	}

	for _, path := range sources.CatalogPaths {
		catalog, err := loadCatalogFile(path)
		if err != nil {
			return nil, err
		}
		for _, ts := range catalog.Toolsets {
			ts.Origin = OriginCustom
			if existing, ok := r.toolsets[ts.Name]; ok && existing.Origin == OriginBuiltin {
				return nil, config.NewConfigError(fmt.Sprintf(
					"toolset %q redefines a builtin toolset; configure the builtin via overrides instead", ts.Name))
			}
			if err := r.add(ts); err != nil {
				return nil, err
			}
		}
		for name, override := range catalog.Overrides {
			if err := r.applyOverride(name, override); err != nil {
				return nil, err
			}
		}
	}

	for name, server := range sources.RemoteServers {
		r.toolsets[name] = &Toolset{
			Name:        name,
			Description: server.Description,
			Origin:      OriginRemote,
			Enabled:     true,
		}
	}

	r.evaluatePrerequisites(engineVersion)

	logger.InfoWithFields("registry loaded",
		logging.Field("toolsets", len(r.toolsets)),
		logging.Field("local_tools", len(r.tools)),
	)

	return r, nil
}

func loadCatalogFile(path string) (*CatalogFile, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, config.NewConfigError(fmt.Sprintf("failed to load catalog %q: %v", path, err))
	}

	var catalog CatalogFile
	if err := k.UnmarshalWithConf("", &catalog, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, config.NewConfigError(fmt.Sprintf("failed to parse catalog %q: %v", path, err))
	}
	return &catalog, nil
}

// add registers a local toolset and its tools, enforcing tool name
// uniqueness across the merged registry.
func (r *Registry) add(ts *Toolset) error {
	if ts.Name == "" {
		return config.NewConfigError("toolset name is required")
	}
	if _, exists := r.toolsets[ts.Name]; exists {
		return config.NewConfigError(fmt.Sprintf("duplicate toolset name %q", ts.Name))
	}

	for i := range ts.Tools {
		def := &ts.Tools[i]
		if def.Name == "" {
			return config.NewConfigError(fmt.Sprintf("toolset %q: tool name is required", ts.Name))
		}
		// Dots are the remote namespace separator; a local tool carrying
		// one would be routed to a remote server and never invoked.
		if strings.Contains(def.Name, ".") {
			return config.NewConfigError(fmt.Sprintf(
				"toolset %q: tool name %q must not contain %q, names with dots are reserved for remote tools",
				ts.Name, def.Name, "."))
		}
		if other, exists := r.tools[def.Name]; exists {
			return config.NewConfigError(fmt.Sprintf(
				"tool %q declared by both toolset %q (%s) and toolset %q (%s)",
				def.Name, other.Toolset.Name, other.Toolset.Origin, ts.Name, ts.Origin))
		}
		r.tools[def.Name] = &ResolvedTool{Definition: def, Toolset: ts}
	}

	ts.Enabled = true
	r.toolsets[ts.Name] = ts
	return nil
}

// applyOverride deep-merges an operator override onto a builtin toolset:
// specified keys replace, unspecified keys keep the builtin defaults.
func (r *Registry) applyOverride(name string, override *Override) error {
	ts, ok := r.toolsets[name]
	if !ok {
		return config.NewConfigError(fmt.Sprintf("override targets unknown toolset %q", name))
	}
	if override == nil {
		return nil
	}

	if override.Enabled != nil && !*override.Enabled {
		ts.Enabled = false
		ts.DisabledReason = "disabled by operator override"
	}
	if len(override.Config) > 0 {
		if ts.Config == nil {
			ts.Config = make(map[string]string, len(override.Config))
		}
		for k, v := range override.Config {
			ts.Config[k] = v
		}
	}
	if override.Tags != nil {
		ts.Tags = override.Tags
	}
	return nil
}

// evaluatePrerequisites runs the local-only prerequisite checks and the
// required_version gate. Failing toolsets are disabled with a reason, not
// removed. No network calls happen here.
func (r *Registry) evaluatePrerequisites(engineVersion string) {
	engineVer, err := goversion.NewVersion(engineVersion)
	if err != nil {
		engineVer = nil
	}

	for _, ts := range r.toolsets {
		if !ts.Enabled || ts.Origin == OriginRemote {
			continue
		}

		if ts.RequiredVersion != "" && engineVer != nil {
			required, err := goversion.NewVersion(ts.RequiredVersion)
			if err != nil {
				ts.Enabled = false
				ts.DisabledReason = fmt.Sprintf("invalid required_version %q", ts.RequiredVersion)
				continue
			}
			if engineVer.LessThan(required) {
				ts.Enabled = false
				ts.DisabledReason = fmt.Sprintf("requires engine version >= %s (running %s)",
					ts.RequiredVersion, engineVersion)
				continue
			}
		}

		if reason := checkPrerequisites(ts.Prerequisites); reason != "" {
			ts.Enabled = false
			ts.DisabledReason = reason
			r.logger.WarnWithFields("toolset disabled",
				logging.Field("toolset", ts.Name),
				logging.Field("reason", reason),
			)
		}
	}
}

// Get returns a local tool by name.
func (r *Registry) Get(name string) (*ResolvedTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok || !tool.Toolset.Enabled {
		return nil, false
	}
	return tool, true
}

// Toolset returns a toolset by name.
func (r *Registry) Toolset(name string) (*Toolset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.toolsets[name]
	return ts, ok
}

// Toolsets returns all toolsets sorted by name, including disabled ones.
func (r *Registry) Toolsets() []*Toolset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Toolset, 0, len(r.toolsets))
	for _, ts := range r.toolsets {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledTools returns all tools from enabled local toolsets, sorted by
// name for a stable model-facing listing.
func (r *Registry) EnabledTools() []*ResolvedTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResolvedTool, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Toolset.Enabled {
			out = append(out, tool)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Definition.Name < out[j].Definition.Name
	})
	return out
}

// SetDisabled marks a toolset disabled with a reason. Used by the remote
// client layer when a server connection degrades.
func (r *Registry) SetDisabled(name, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.toolsets[name]; ok {
		ts.Enabled = false
		ts.DisabledReason = reason
	}
}

// InputSchema builds the JSON Schema for a tool's model-visible
// parameters. Operator-only toolset config values are never included.
func (d *ToolDefinition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	var required []string
	for name, param := range d.Parameters {
		prop := map[string]interface{}{
			"type": param.Type,
		}
		if prop["type"] == "" {
			prop["type"] = "string"
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		properties[name] = prop
		if param.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
