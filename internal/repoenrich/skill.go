package repoenrich

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orchestrator/internal/skills"
)

// fetchIssueTimeoutSeconds is the fallback declared in the skill's policy
// when no timeout was configured; the actual bound enforced on the call
// is e.timeout, set from config.RepoEnrichConfig.Timeout.
const fetchIssueTimeoutSeconds = 10

// FetchIssueSkill exposes e as the in-process "fetch_issue" skill: given a
// GitHub issue URL, RepoMapper or Planner can pull its title and body
// directly into their own reasoning instead of relying solely on whatever
// task_description the caller supplied at submission time.
func (e *Enricher) FetchIssueSkill() skills.Skill {
	return skills.Skill{
		Name:        "fetch_issue",
		Version:     "1.0.0",
		Signature:   "fetch_issue(issue_url: str) -> dict",
		Description: "Fetch the title and body of a linked GitHub issue.",
		Target:      skills.InProcess,
		Policy:      skills.Policy{NetworkAllowed: true, CommandTimeoutSeconds: fetchIssueTimeoutSeconds},
		Execute:     e.executeFetchIssue,
	}
}

func (e *Enricher) executeFetchIssue(ctx context.Context, args map[string]any) (map[string]any, error) {
	issueURL, ok := args["issue_url"].(string)
	if !ok || issueURL == "" {
		return nil, skills.NewSkillError(skills.KindParseError, fmt.Errorf("repoenrich: missing or empty \"issue_url\" argument"))
	}

	issue, err := e.FetchIssue(ctx, issueURL)
	if err != nil {
		return nil, skills.NewSkillError(skills.KindExecutorError, err)
	}

	return map[string]any{"title": issue.Title, "body": issue.Body}, nil
}
