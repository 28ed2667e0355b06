package memory

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/orchestrator/internal/skills"
)

// Skills returns the two in-process skills backed by m: "search_memory"
// for RepoMapper/Planner to look up precedent before acting, and
// "record_remediation" for Finalizer to write the outcome once a job
// concludes.
func (m *Memory) Skills() []skills.Skill {
	return []skills.Skill{
		{
			Name:        "search_memory",
			Version:     "1.0.0",
			Signature:   "search_memory(query: str) -> list[dict]",
			Description: "Search past repair outcomes for precedent relevant to the current task.",
			Target:      skills.InProcess,
			Policy:      skills.InProcessPolicy(),
			Execute:     m.executeSearch,
		},
		{
			Name:        "record_remediation",
			Version:     "1.0.0",
			Signature:   "record_remediation(job_id: str, task_description: str, diagnosis: str, fix_summary: str, tests_passed: bool) -> None",
			Description: "Record a completed repair's diagnosis and fix for future reference.",
			Target:      skills.InProcess,
			Policy:      skills.InProcessPolicy(),
			Execute:     m.executeRecord,
		},
	}
}

func (m *Memory) executeSearch(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, skills.NewSkillError(skills.KindParseError, fmt.Errorf("memory: missing or empty \"query\" argument"))
	}

	matches := m.Search(ctx, query)
	out := make([]map[string]any, 0, len(matches))
	for _, match := range matches {
		out = append(out, map[string]any{
			"job_id":  match.JobID,
			"summary": match.Summary,
			"score":   match.Score,
		})
	}
	return map[string]any{"matches": out}, nil
}

func (m *Memory) executeRecord(ctx context.Context, args map[string]any) (map[string]any, error) {
	jobID, _ := args["job_id"].(string)
	taskDescription, _ := args["task_description"].(string)
	diagnosis, _ := args["diagnosis"].(string)
	fixSummary, _ := args["fix_summary"].(string)
	testsPassed, _ := args["tests_passed"].(bool)

	if jobID == "" {
		return nil, skills.NewSkillError(skills.KindParseError, fmt.Errorf("memory: missing \"job_id\" argument"))
	}

	m.Record(ctx, Entry{
		JobID:           jobID,
		TaskDescription: taskDescription,
		Diagnosis:       diagnosis,
		FixSummary:      fixSummary,
		TestsPassed:     testsPassed,
	})
	return map[string]any{"recorded": true}, nil
}
