package policy

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orchestrator/internal/skills"
)

// CheckPolicySkill returns the in-process "check_policy" skill descriptor:
// the orchestrator's own hard gate on a unified diff, run after Reviewer
// to enforce rules Claude might miss or be convinced to waive.
func CheckPolicySkill() skills.Skill {
	return skills.Skill{
		Name:        "check_policy",
		Version:     "1.0.0",
		Signature:   "check_policy(diff: str) -> dict",
		Description: "Check a unified diff for policy violations: disabled tests, secrets, oversized patches.",
		Target:      skills.InProcess,
		Policy:      skills.InProcessPolicy(),
		Execute:     executeCheckPolicy,
	}
}

func executeCheckPolicy(_ context.Context, args map[string]any) (map[string]any, error) {
	diff, ok := args["diff"].(string)
	if !ok || diff == "" {
		return nil, skills.NewSkillError(skills.KindParseError, fmt.Errorf("policy: missing or empty \"diff\" argument"))
	}

	report := CheckDiff(diff)
	result := map[string]any{
		"approved":      report.Approved,
		"violations":    report.Violations,
		"lines_added":   report.LinesAdded,
		"lines_removed": report.LinesRemoved,
	}

	if !report.Approved {
		return result, skills.NewSkillError(skills.KindPolicyViolation, fmt.Errorf("policy: %d violation(s) found", len(report.Violations)))
	}
	return result, nil
}
