package invoker

import (
	"fmt"
	"strings"
	"text/template"
)

// renderParams produces the model-safe echo of an invocation. Parameter
// values are expanded; {{ .Secrets.* }} references are reconstructed
// verbatim so the output never carries a secret value. Unknown
// references fail.
func renderParams(command string, params map[string]interface{}, secretKeys map[string]string) (string, error) {
	passthrough := make(map[string]string, len(secretKeys))
	for k := range secretKeys {
		passthrough[k] = "{{ .Secrets." + k + " }}"
	}

	tmpl, err := template.New("command").Option("missingkey=error").Parse(command)
	if err != nil {
		return "", fmt.Errorf("invalid command template: %w", err)
	}

	var out strings.Builder
	data := map[string]interface{}{
		"Params":  params,
		"Secrets": passthrough,
	}
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("parameter substitution: %w", err)
	}
	return out.String(), nil
}

// renderCommand produces the executable command. It renders the original
// tool template once with both parameter and secret values, so secret
// references expand only where the tool author placed them: a parameter
// value is substituted as literal text and is never re-parsed as a
// template. Its output must never be logged or echoed.
func renderCommand(command string, params map[string]interface{}, secrets map[string]string) (string, error) {
	tmpl, err := template.New("command").Option("missingkey=error").Parse(command)
	if err != nil {
		return "", fmt.Errorf("invalid command template: %w", err)
	}

	var out strings.Builder
	data := map[string]interface{}{
		"Params":  params,
		"Secrets": secrets,
	}
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("secret substitution: %w", err)
	}
	return out.String(), nil
}
