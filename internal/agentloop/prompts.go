package agentloop

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// systemPrompt returns the fixed role instructions for role, with the
// registry's tool documentation appended so the agent knows exactly which
// skills are callable this turn.
func systemPrompt(role model.AgentRole, toolDocs string) string {
	var roleBody string
	switch role {
	case model.RoleRepoMapper:
		roleBody = repoMapperPrompt
	case model.RolePlanner:
		roleBody = plannerPrompt
	case model.RoleImplementer:
		roleBody = implementerPrompt
	case model.RoleTester:
		roleBody = testerPrompt
	case model.RoleReviewer:
		roleBody = reviewerPrompt
	case model.RoleFinalizer:
		roleBody = finalizerPrompt
	default:
		roleBody = "You are an agent in an automated code-repair pipeline."
	}
	return roleBody + "\n\n" + toolDocs
}

const repoMapperPrompt = `You are the RepoMapper agent in an automated code-repair pipeline.

YOUR GOAL: explore the repository in the workspace and produce a structured
summary the later agents (Planner, Implementer) will use to navigate the
codebase.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> with fields
such as build_tool, entry_points, test_dirs, key_packages, file_count, and a
one-paragraph summary of what the repository does.`

const plannerPrompt = `You are the Planner agent in an automated code-repair pipeline.

YOUR GOAL: given the failing test information and the repository map, produce
a concrete, step-by-step repair plan that the Implementer agent will follow.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> with fields
such as root_cause, files_to_edit, and an ordered steps list.`

const implementerPrompt = `You are the Implementer agent in an automated code-repair pipeline.

YOUR GOAL: follow the repair plan exactly and apply the changes to the
workspace using apply_patch. Verify the patch applied cleanly before
concluding.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> with fields
such as files_changed and diff_summary.`

const testerPrompt = `You are the Tester agent in an automated code-repair pipeline.

YOUR GOAL: run the test suite and verify the repair fixed the failing test
without breaking previously passing tests.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> with fields
tests_passed (true or false), tests_run, failures, errors, and notes.`

const reviewerPrompt = `You are the Reviewer agent in an automated code-repair pipeline.

YOUR GOAL: perform a final review of the repair. Check that the diff is
minimal, correct, and does not introduce new issues. Before concluding,
call check_policy(git_diff("HEAD")) to catch disabled tests, hardcoded
secrets, and oversized patches automatically — it is a hard gate run
independently of your own judgment, so report any violations it finds
even if you believe the change is otherwise sound.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> with fields
approved (true or false), verdict, and concerns.`

const finalizerPrompt = `You are the Finalizer agent in an automated code-repair pipeline.

YOUR GOAL: summarise the repair run for a human reader using the prior agent
results provided in context.

WHAT TO PRODUCE: write a JSON object inside <result>...</result> summarising
the outcome. Optionally call git_diff("HEAD") to confirm the final patch
before summarising.`

// buildInitialPrompt constructs the first user message for a step: an
// opening line naming the role, an optional task-context block (RepoMapper
// and Planner only, naming the linked GitHub issue URL if the job has one
// so the agent knows to call fetch_issue for its text), an optional
// remediation-memory block (RepoMapper and Planner only, empty when memory
// found no precedent), a context block with every prior role's latest
// result, and the role-specific instruction — with the Planner's
// instruction swapped for a revised-plan request when the most recent
// Tester result indicates failure.
func buildInitialPrompt(role model.AgentRole, taskDescription, failingTest, githubIssueURL, memoryContext string, priorResults map[model.AgentRole]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are starting your task as the %s agent.\n\n", role)

	if (role == model.RoleRepoMapper || role == model.RolePlanner) && (taskDescription != "" || failingTest != "" || githubIssueURL != "") {
		b.WriteString("=== TASK CONTEXT ===\n")
		if taskDescription != "" {
			fmt.Fprintf(&b, "Bug description : %s\n", taskDescription)
		}
		if failingTest != "" {
			fmt.Fprintf(&b, "Failing test    : %s\n", failingTest)
		}
		if githubIssueURL != "" {
			fmt.Fprintf(&b, "Linked issue    : %s (call fetch_issue(issue_url) for its title and body)\n", githubIssueURL)
		}
		b.WriteString("=== END TASK CONTEXT ===\n\n")
	}

	if memoryContext != "" {
		b.WriteString("=== PAST REMEDIATIONS THAT MAY BE RELEVANT ===\n")
		b.WriteString(memoryContext)
		b.WriteString("=== END PAST REMEDIATIONS ===\n\n")
	}

	if len(priorResults) > 0 {
		b.WriteString("=== CONTEXT FROM PREVIOUS AGENTS ===\n")
		for _, r := range model.Pipeline {
			if result, ok := priorResults[r]; ok {
				fmt.Fprintf(&b, "[ %s result ]\n%s\n\n", r, result)
			}
		}
		b.WriteString("=== END CONTEXT ===\n\n")
	}

	b.WriteString(roleInstruction(role, priorResults))
	return b.String()
}

// roleInstruction returns the instruction sentence appended after context,
// branching Planner's text on whether the most recent Tester result
// reports failure (a backtrack re-entry).
func roleInstruction(role model.AgentRole, priorResults map[model.AgentRole]string) string {
	switch role {
	case model.RoleRepoMapper:
		return "Explore the repository in the workspace and produce the required JSON summary. " +
			"Focus your analysis on the area described in the task context above."
	case model.RolePlanner:
		if isReplan(priorResults[model.RoleTester]) {
			return "The previous implementation FAILED the tests (see TESTER result above). " +
				"Study the failure details and produce a REVISED repair plan that correctly " +
				"addresses the root cause."
		}
		return "Using the repository map and task context above, analyse the codebase " +
			"and produce a repair plan targeting the described bug."
	case model.RoleImplementer:
		return "Follow the repair plan above. Apply the changes using apply_patch() and verify."
	case model.RoleTester:
		return "Run the test suite with run_command() and report results."
	case model.RoleReviewer:
		return `Review the repair. Run git_diff("HEAD") and assess the changes.`
	case model.RoleFinalizer:
		return "All pipeline stages are complete. Summarise the repair run using the prior agent " +
			`results above. Optionally run git_diff("HEAD") to confirm the final patch.`
	default:
		return "Proceed."
	}
}

// isReplan reports whether testerResult (the most recent Tester step's
// result payload, if any) indicates a test failure.
func isReplan(testerResult string) bool {
	if testerResult == "" {
		return false
	}
	return strings.Contains(testerResult, `"tests_passed":false`) ||
		strings.Contains(testerResult, `"tests_passed": false`)
}
