package secrets

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orchestrator/internal/skills"
)

// ScanSecretsSkill returns the in-process "scan_secrets" skill descriptor:
// an agent can call it directly to check arbitrary text (usually something
// it is about to write to a file or a commit message) for secrets before
// committing to it, without a round trip through the sandboxed executor.
func ScanSecretsSkill() skills.Skill {
	return skills.Skill{
		Name:        "scan_secrets",
		Version:     "1.0.0",
		Signature:   "scan_secrets(content: str) -> list[dict]",
		Description: "Scan text for accidentally-included credentials and return any findings.",
		Target:      skills.InProcess,
		Policy:      skills.InProcessPolicy(),
		Execute:     executeScanSecrets,
	}
}

func executeScanSecrets(_ context.Context, args map[string]any) (map[string]any, error) {
	content, ok := args["content"].(string)
	if !ok {
		return nil, skills.NewSkillError(skills.KindParseError, fmt.Errorf("secrets: missing or non-string \"content\" argument"))
	}

	findings, err := Detect(content)
	if err != nil {
		return nil, skills.NewSkillError(skills.KindExecutorError, err)
	}

	out := make([]map[string]any, 0, len(findings))
	for _, f := range findings {
		out = append(out, map[string]any{
			"rule_id":   f.RuleID,
			"rule_desc": f.RuleDesc,
			"line":      f.Line,
		})
	}
	return map[string]any{"findings": out}, nil
}
