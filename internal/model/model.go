// Package model defines the durable Job/Step data model shared by the
// store, the job service, the scheduler, and the agent loop.
package model

import (
	"time"

	"github.com/google/uuid"
)

// AgentRole is one of the six fixed pipeline stages.
type AgentRole string

const (
	RoleRepoMapper  AgentRole = "REPO_MAPPER"
	RolePlanner     AgentRole = "PLANNER"
	RoleImplementer AgentRole = "IMPLEMENTER"
	RoleTester      AgentRole = "TESTER"
	RoleReviewer    AgentRole = "REVIEWER"
	RoleFinalizer   AgentRole = "FINALIZER"
)

// Pipeline is the closed, ordered sequence of agent roles.
var Pipeline = []AgentRole{
	RoleRepoMapper,
	RolePlanner,
	RoleImplementer,
	RoleTester,
	RoleReviewer,
	RoleFinalizer,
}

// NextRole returns the role that follows current in Pipeline, or ""
// if current is the last role.
func NextRole(current AgentRole) AgentRole {
	for i, r := range Pipeline {
		if r == current {
			if i == len(Pipeline)-1 {
				return ""
			}
			return Pipeline[i+1]
		}
	}
	return ""
}

// JobState is the job's coarse, reported state.
type JobState string

const (
	JobInit      JobState = "INIT"
	JobMapRepo   JobState = "MAP_REPO"
	JobPlan      JobState = "PLAN"
	JobImplement JobState = "IMPLEMENT"
	JobTest      JobState = "TEST"
	JobReview    JobState = "REVIEW"
	JobFinalize  JobState = "FINALIZE"
	JobDone      JobState = "DONE"
	JobFailed    JobState = "FAILED"
)

// JobStateForRole maps a pending agent role to the job's coarse state,
// per spec §4.2's role → coarse-state table.
func JobStateForRole(role AgentRole) JobState {
	switch role {
	case RoleRepoMapper:
		return JobMapRepo
	case RolePlanner:
		return JobPlan
	case RoleImplementer:
		return JobImplement
	case RoleTester:
		return JobTest
	case RoleReviewer:
		return JobReview
	case RoleFinalizer:
		return JobFinalize
	default:
		return JobDone
	}
}

// StepState is a step's execution state.
type StepState string

const (
	StepPending StepState = "PENDING"
	StepRunning StepState = "RUNNING"
	StepDone    StepState = "DONE"
	StepFailed  StepState = "FAILED"
)

// MaxAttempts is the default retry cap for a single step (spec §4.2).
const MaxAttempts = 3

// StallCutoff is the default heartbeat staleness cutoff for reclamation
// (spec §4.2, §5).
const StallCutoff = 5 * time.Minute

// Job is one repair task.
type Job struct {
	ID                      string
	RepoURL                 string
	GitRef                  string
	State                   JobState
	WorkspaceRef            string
	SnapshotKey             string
	TaskDescription         string
	FailingTest             string
	GitHubIssueURL          string
	ConsecutiveTestFailures int
	IterationCount          int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// NewJob constructs a Job in its initial state. gitRef defaults to
// "main" when blank, per spec §6.
func NewJob(repoURL, gitRef, taskDescription, failingTest string) *Job {
	if gitRef == "" {
		gitRef = "main"
	}
	now := time.Now().UTC()
	return &Job{
		ID:              uuid.NewString(),
		RepoURL:         repoURL,
		GitRef:          gitRef,
		State:           JobInit,
		TaskDescription: taskDescription,
		FailingTest:     failingTest,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Step is one agent-role execution within a job.
type Step struct {
	ID                  string
	JobID               string
	Role                AgentRole
	State               StepState
	Attempt             int
	WorkerID            string
	HeartbeatAt         *time.Time
	CreatedAt           time.Time
	StartedAt           *time.Time
	FinishedAt          *time.Time
	ResultJSON          string
	ConversationHistory string
}

// NewStep constructs a Pending step for the given job/role.
func NewStep(jobID string, role AgentRole) *Step {
	return &Step{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Role:      role,
		State:     StepPending,
		CreatedAt: time.Now().UTC(),
	}
}

// Message is one turn of a conversation history: role ("user" or
// "assistant") plus textual content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
