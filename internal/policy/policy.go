// Package policy implements the hard gate run after the Reviewer step:
// automated diff checks that catch what an LLM might miss or be talked
// out of flagging — disabled tests, hardcoded secrets, and oversized
// patches — independent of the model's own judgment.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxPatchLOC is the maximum combined added+removed line count before a
// patch is considered too large to review safely.
const MaxPatchLOC = 300

// Patterns applied only to added lines (lines starting with "+" in a
// unified diff, excluding the "+++" file header).
var (
	disabledTestPattern = regexp.MustCompile(`^\+.*@(Ignore|Disabled)\b|^\+.*\bt\.Skip(f|Now)?\(|^\+.*@pytest\.mark\.skip`)
	secretPattern       = regexp.MustCompile(`(?i)^\+.*(password|api.?key|secret|token)\s*[:=]\s*["'][^"']{4,}["']`)
)

// Report is the outcome of checking a unified diff against policy.
type Report struct {
	Approved     bool     `json:"approved"`
	Violations   []string `json:"violations"`
	LinesAdded   int      `json:"lines_added"`
	LinesRemoved int      `json:"lines_removed"`
}

// CheckDiff scans a unified diff line by line: disabled-test annotations
// and hardcoded-looking secrets are flagged on added lines, then the
// total change size is checked against MaxPatchLOC. An empty or blank
// diff is never approved — there is nothing for the Reviewer to have
// reviewed.
func CheckDiff(diff string) Report {
	if strings.TrimSpace(diff) == "" {
		return Report{Violations: []string{"empty or blank diff"}}
	}

	var violations []string
	var added, removed int

	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
			if disabledTestPattern.MatchString(line) {
				violations = append(violations, "disabled test annotation found: "+strings.TrimSpace(line))
			}
			if secretPattern.MatchString(line) {
				violations = append(violations, "potential secret in added code: "+strings.TrimSpace(line))
			}
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}

	totalLOC := added + removed
	if totalLOC > MaxPatchLOC {
		violations = append(violations, fmt.Sprintf("patch is %d LOC (limit: %d)", totalLOC, MaxPatchLOC))
	}

	return Report{
		Approved:     len(violations) == 0,
		Violations:   violations,
		LinesAdded:   added,
		LinesRemoved: removed,
	}
}
