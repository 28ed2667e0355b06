package agentloop

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

// formatObservation renders a workspace.RunResult the way the agent reads
// it: stdout, then stderr, then "(no output)" if both are blank, followed
// by the exit code and an optional error_type tag. Shared in spirit with
// the execution service's own DTO so both sides agree on the shape.
func formatObservation(r workspace.RunResult) string {
	var b strings.Builder

	stdout := strings.TrimSpace(r.Stdout)
	stderr := strings.TrimSpace(r.Stderr)

	switch {
	case stdout != "" && stderr != "":
		b.WriteString("stdout:\n")
		b.WriteString(stdout)
		b.WriteString("\n\nstderr:\n")
		b.WriteString(stderr)
	case stdout != "":
		b.WriteString("stdout:\n")
		b.WriteString(stdout)
	case stderr != "":
		b.WriteString("stderr:\n")
		b.WriteString(stderr)
	default:
		b.WriteString("(no output)")
	}

	fmt.Fprintf(&b, "\n\nexit_code: %d", r.ExitCode)
	if r.ErrorType != "" {
		fmt.Fprintf(&b, "\nerror_type: %s", r.ErrorType)
	}

	return b.String()
}

// truncateObservation caps an observation string at maxChars in total,
// ending it with a marker so the agent knows content was dropped rather
// than silently reading a cut-off blob.
func truncateObservation(observation string, maxChars int) string {
	if len(observation) <= maxChars {
		return observation
	}
	marker := fmt.Sprintf("\n[...output truncated at %d chars...]", maxChars)
	cut := maxChars - len(marker)
	if cut < 0 {
		cut = 0
	}
	return observation[:cut] + marker
}
