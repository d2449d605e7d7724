// Package toolset provides the tool registry for the Inquest engine.
// It loads builtin and operator-supplied tool catalogs, merges
// configuration overrides, detects name conflicts, and evaluates
// lightweight local prerequisites at load time.
package toolset

// Origin identifies where a toolset definition came from.
type Origin string

const (
	// OriginBuiltin marks toolsets shipped with the engine.
	OriginBuiltin Origin = "builtin"

	// OriginCustom marks operator-supplied toolsets.
	OriginCustom Origin = "custom"

	// OriginRemote marks toolsets synthesized from configured remote
	// servers. Their tools are discovered lazily on first use.
	OriginRemote Origin = "remote"
)

// ParameterSpec describes one model-visible tool parameter.
type ParameterSpec struct {
	Type        string      `yaml:"type"`
	Description string      `yaml:"description"`
	Required    bool        `yaml:"required"`
	Default     interface{} `yaml:"default"`
}

// TransformerConfig declares one post-processing step for a tool's output.
type TransformerConfig struct {
	// Name identifies the transformer (e.g., "llm_summarize").
	Name string `yaml:"name"`

	// Config holds transformer-specific settings
	// (e.g., {"input_threshold": 2000, "prompt": "..."}).
	Config map[string]interface{} `yaml:"config"`
}

// ToolDefinition declares one invocable tool.
type ToolDefinition struct {
	// Name is unique across all local toolsets in the merged registry.
	Name string `yaml:"name"`

	// Description is handed to the model as the tool's documentation.
	Description string `yaml:"description"`

	// Command is the invocation template. Model-visible parameters are
	// referenced as {{ .Params.x }}, operator-only values from the
	// toolset config as {{ .Secrets.y }}.
	Command string `yaml:"command"`

	// Parameters declares the model-visible parameter schema.
	Parameters map[string]ParameterSpec `yaml:"parameters"`

	// Transformers is the ordered post-processing chain for this tool's
	// raw output.
	Transformers []TransformerConfig `yaml:"transformers"`

	// Instructions is extra guidance for the model on interpreting this
	// tool's output.
	Instructions string `yaml:"llm_instructions"`

	// TimeoutSeconds overrides the engine default execution timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Prerequisite is a lightweight, local-only check evaluated at load time.
// Prerequisites must never perform network calls; remote connectivity is
// validated lazily by the remote client layer.
type Prerequisite struct {
	// Binary requires the named executable to be present on PATH.
	Binary string `yaml:"binary"`

	// Env requires the named environment variable to be non-empty.
	Env string `yaml:"env"`
}

// Toolset is a named, independently enableable bundle of tools.
type Toolset struct {
	Name          string         `yaml:"name"`
	Description   string         `yaml:"description"`
	Prerequisites []Prerequisite `yaml:"prerequisites"`
	Tags          []string       `yaml:"tags"`

	// Config holds operator-only values substituted into command
	// templates in the second pass. Never exposed to the model.
	Config map[string]string `yaml:"config"`

	// RequiredVersion is the minimum engine version this toolset needs.
	RequiredVersion string `yaml:"required_version"`

	Tools []ToolDefinition `yaml:"tools"`

	// Origin is set by the registry at load time.
	Origin Origin `yaml:"-"`

	// Enabled and DisabledReason track the toolset's runtime state. A
	// toolset failing a prerequisite stays in the registry, disabled
	// with a reason, so operators can inspect why.
	Enabled        bool   `yaml:"-"`
	DisabledReason string `yaml:"-"`
}

// CatalogFile is the on-disk format for custom catalogs.
type CatalogFile struct {
	// Toolsets declares new toolsets. A name equal to a builtin toolset
	// is rejected: configure the builtin via Overrides instead.
	Toolsets []*Toolset `yaml:"toolsets"`

	// Overrides deep-merges configuration onto builtin toolsets by name:
	// specified keys replace, unspecified keys keep the builtin defaults.
	Overrides map[string]*Override `yaml:"overrides"`
}

// Override adjusts a builtin toolset without redefining it.
type Override struct {
	// Enabled toggles the toolset. Nil leaves the builtin default.
	Enabled *bool `yaml:"enabled"`

	// Config entries are merged key-wise onto the builtin config.
	Config map[string]string `yaml:"config"`

	// Tags, if specified, replace the builtin tags.
	Tags []string `yaml:"tags"`
}

// ResolvedTool pairs a tool definition with its owning toolset, giving the
// invoker access to the toolset's operator config.
type ResolvedTool struct {
	Definition *ToolDefinition
	Toolset    *Toolset
}
