package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// Redact detects and replaces secrets in content with
// "[REDACTED:rule-id:preview]" markers. The marker preserves enough
// structure for an LLM to recognize "a secret used to be here" without
// exposing the value, and enough of a preview for a human reviewing an
// agent's history to tell which secret it was without reading it back in
// full.
func Redact(content string) (string, []Finding, error) {
	findings, err := Detect(content)
	if err != nil {
		return "", nil, fmt.Errorf("secrets: detecting: %w", err)
	}
	if len(findings) == 0 {
		return content, findings, nil
	}
	return replaceFindings(content, findings), findings, nil
}

// replaceFindings walks findings in reverse line/column order so earlier
// replacements never invalidate the offsets of later ones.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]
		if f.StartCol < 0 || f.EndCol > len(line) || f.StartCol > f.EndCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, previewOf(f.Match))
		lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
	}
	return strings.Join(lines, "\n")
}

func previewOf(secret string) string {
	if len(secret) <= 4 {
		return secret
	}
	return secret[:4]
}
