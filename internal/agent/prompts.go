package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const investigatorPersona = `You are an investigation assistant for production systems.
You diagnose problems by calling the available tools, reading their real
output, and reasoning from evidence. Guidelines:
- Call tools to gather facts before drawing conclusions; never invent data.
- Prefer narrow, read-only queries; widen scope only when the evidence demands it.
- A failed tool call is information too: note it and try another approach.
- When you have enough evidence, stop calling tools and give a concise
  finding: what is wrong, where, and the supporting evidence.`

const checkPersona = `You are a health-check assistant for production systems.
Use the available tools to verify the condition in the request, then give a
verdict. Your final reply must be exactly one JSON object of the form
{"passed": true|false, "rationale": "<one or two sentences of evidence>"}
with no surrounding text.`

// promptContext carries the per-session material folded into the system
// prompt.
type promptContext struct {
	toolsetNotes []string
	remoteNotes  map[string]string
	instances    []string
	window       Window
	now          time.Time
}

func buildSystemPrompt(persona string, pc promptContext) string {
	var b strings.Builder
	b.WriteString(persona)

	fmt.Fprintf(&b, "\n\nCurrent time: %s.", pc.now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "\nUnless the request says otherwise, focus on the window %s.", pc.window)

	if len(pc.instances) > 0 {
		b.WriteString("\n\nConfigured service instances:")
		for _, inst := range pc.instances {
			b.WriteString("\n- ")
			b.WriteString(inst)
		}
		b.WriteString("\nWhen a tool takes an instance parameter and the request is ambiguous, pass instance_id explicitly.")
	}

	if len(pc.toolsetNotes) > 0 {
		b.WriteString("\n\nTool usage notes:")
		for _, note := range pc.toolsetNotes {
			b.WriteString("\n")
			b.WriteString(note)
		}
	}

	servers := make([]string, 0, len(pc.remoteNotes))
	for server := range pc.remoteNotes {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	for _, server := range servers {
		fmt.Fprintf(&b, "\n\nGuidance for tools from %q:\n%s", server, pc.remoteNotes[server])
	}

	return b.String()
}
