package toolset

import (
	"fmt"
	"os"
	"os/exec"
)

// checkPrerequisites evaluates a toolset's prerequisite list and returns
// an empty string when all pass, or a reason string describing the first
// failure. Checks are strictly local: binary lookup on PATH and
// environment variable presence. Anything requiring the network belongs
// in the remote client layer's lazy connect, not here.
func checkPrerequisites(prereqs []Prerequisite) string {
	for _, p := range prereqs {
		if p.Binary != "" {
			if _, err := exec.LookPath(p.Binary); err != nil {
				return fmt.Sprintf("required binary %q not found on PATH", p.Binary)
			}
		}
		if p.Env != "" {
			if os.Getenv(p.Env) == "" {
				return fmt.Sprintf("required environment variable %q is not set", p.Env)
			}
		}
	}
	return ""
}
