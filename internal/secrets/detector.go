// Package secrets scans agent-visible text for accidentally-included
// credentials before it is persisted or shown back to a model, using the
// Gitleaks SDK's default rule set.
package secrets

import (
	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is a single detected secret with enough position information to
// redact it in place.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int
	StartCol int
	EndCol   int
	Match    string
}

// Detect scans content for secrets using Gitleaks' default configuration
// (800+ built-in rules). Each Finding carries positions, rule metadata and
// the matched secret text (Match); the rest of content is not returned.
func Detect(content string) ([]Finding, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}

	gitleaksFindings := detector.DetectString(content)

	findings := make([]Finding, 0, len(gitleaksFindings))
	for _, f := range gitleaksFindings {
		findings = append(findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
	}
	return findings, nil
}
