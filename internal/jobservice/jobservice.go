// Package jobservice is the transactional custodian of the Job/Step state
// machine: submit, claim, complete, fail, heartbeat, and stall reclamation.
// It is the only component that mutates the durable store.
package jobservice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
	"github.com/fyrsmithlabs/orchestrator/internal/repoenrich"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

// EventPublisher is the seam to the Event Bus. Every Step/Job transition
// additionally emits a lifecycle event through it as a side effect, never
// as part of the transaction that commits the transition — the event bus
// is not the source of truth, the durable store is. A nil EventPublisher
// (the default) makes every call here a no-op.
type EventPublisher interface {
	PublishJobTransition(job *model.Job)
	PublishStepTransition(step *model.Step)
}

// Service is the Job Service.
type Service struct {
	store       *store.Store
	workspace   workspace.Client
	logger      *zap.Logger
	maxAttempts int
	stallCutoff time.Duration
	events      EventPublisher
}

// New builds a Service.
func New(st *store.Store, ws workspace.Client, logger *zap.Logger, maxAttempts int, stallCutoff time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       st,
		workspace:   ws,
		logger:      logger,
		maxAttempts: maxAttempts,
		stallCutoff: stallCutoff,
	}
}

// SetEvents attaches an EventPublisher after construction, so callers that
// don't want an event bus (most tests) never need to pass one.
func (s *Service) SetEvents(pub EventPublisher) {
	s.events = pub
}

func (s *Service) publishJob(job *model.Job) {
	if s.events != nil {
		s.events.PublishJobTransition(job)
	}
}

func (s *Service) publishStep(step *model.Step) {
	if s.events != nil {
		s.events.PublishStepTransition(step)
	}
}

// Submit creates a Job with no linked GitHub issue. See SubmitWithIssue.
func (s *Service) Submit(ctx context.Context, repoURL, gitRef, taskDescription, failingTest string) (*model.Job, error) {
	return s.SubmitWithIssue(ctx, repoURL, gitRef, taskDescription, failingTest, "")
}

// SubmitWithIssue creates a Job, clones its repository, and — on success —
// creates its first Pending RepoMapper step. repoURL is structurally
// validated as a git-transport-addressable endpoint before anything is
// persisted, per the Repository Enrichment component: a malformed URL
// never creates a job row at all, since no clone attempt or workspace
// would ever succeed against it. githubIssueURL, if non-empty, is stored
// on the job for RepoMapper/Planner's fetch_issue skill to use — it is
// never itself validated or fetched here. On clone failure the job
// transitions directly to Failed and no step is created. The whole
// operation is a single durable transaction from the store's point of
// view: every write here is a single-row insert/update, and no step
// exists until the clone has already succeeded.
func (s *Service) SubmitWithIssue(ctx context.Context, repoURL, gitRef, taskDescription, failingTest, githubIssueURL string) (*model.Job, error) {
	if err := repoenrich.ValidateRepoURL(repoURL); err != nil {
		return nil, err
	}

	job := model.NewJob(repoURL, gitRef, taskDescription, failingTest)
	job.WorkspaceRef = job.ID
	job.GitHubIssueURL = githubIssueURL

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobservice: creating job: %w", err)
	}

	if err := s.workspace.Create(ctx, job.WorkspaceRef, repoURL, job.GitRef); err != nil {
		job.State = model.JobFailed
		if uerr := s.store.UpdateJob(ctx, job); uerr != nil {
			s.logger.Error("failed to persist job failure after clone error", zap.Error(uerr), zap.String("job.id", job.ID))
		}
		s.publishJob(job)
		return job, nil
	}

	step := model.NewStep(job.ID, model.RoleRepoMapper)
	if err := s.store.CreateStep(ctx, step); err != nil {
		return nil, fmt.Errorf("jobservice: creating initial step: %w", err)
	}
	job.State = model.JobStateForRole(model.RoleRepoMapper)
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobservice: updating job state: %w", err)
	}
	s.publishJob(job)
	s.publishStep(step)

	return job, nil
}

// ClaimNextStep claims the oldest Pending step, if any, for workerID.
func (s *Service) ClaimNextStep(ctx context.Context, workerID string) (*model.Step, error) {
	return s.store.ClaimNextPendingStep(ctx, workerID)
}

// CompleteStep transitions step to Done with resultPayload, then applies
// the backtracking or normal-advance logic per spec.md §4.2.
func (s *Service) CompleteStep(ctx context.Context, step *model.Step, resultPayload string) error {
	now := time.Now().UTC()
	step.State = model.StepDone
	step.FinishedAt = &now
	step.ResultJSON = resultPayload
	if err := s.store.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("jobservice: completing step: %w", err)
	}
	s.publishStep(step)

	job, err := s.store.GetJob(ctx, step.JobID)
	if err != nil {
		return fmt.Errorf("jobservice: loading job for completed step: %w", err)
	}

	if step.Role == model.RoleTester {
		if testsPassed(resultPayload) {
			job.ConsecutiveTestFailures = 0
			// fall through to normal advance
		} else {
			job.ConsecutiveTestFailures++
			if job.ConsecutiveTestFailures >= 2 {
				job.State = model.JobFailed
				if err := s.store.UpdateJob(ctx, job); err != nil {
					return fmt.Errorf("jobservice: failing job on backtrack exhaustion: %w", err)
				}
				s.publishJob(job)
				s.cleanupWorkspace(ctx, job.WorkspaceRef)
				return nil
			}
			job.IterationCount++
			job.State = model.JobPlan
			if err := s.store.UpdateJob(ctx, job); err != nil {
				return fmt.Errorf("jobservice: backtracking to planner: %w", err)
			}
			newStep := model.NewStep(job.ID, model.RolePlanner)
			if err := s.store.CreateStep(ctx, newStep); err != nil {
				return fmt.Errorf("jobservice: creating backtrack planner step: %w", err)
			}
			s.publishJob(job)
			s.publishStep(newStep)
			return nil
		}
	}

	nextRole := model.NextRole(step.Role)
	if nextRole == "" {
		job.State = model.JobDone
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return fmt.Errorf("jobservice: completing job: %w", err)
		}
		s.publishJob(job)
		s.cleanupWorkspace(ctx, job.WorkspaceRef)
		return nil
	}

	job.State = model.JobStateForRole(nextRole)
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("jobservice: advancing job state: %w", err)
	}
	newStep := model.NewStep(job.ID, nextRole)
	if err := s.store.CreateStep(ctx, newStep); err != nil {
		return fmt.Errorf("jobservice: creating next step: %w", err)
	}
	s.publishJob(job)
	s.publishStep(newStep)
	return nil
}

// testsPassed reads the "tests_passed" field from a JSON-encoded result
// payload by substring check, per spec.md §4.2 (both compact and spaced
// forms are accepted; any other shape is treated as failure).
func testsPassed(resultPayload string) bool {
	return strings.Contains(resultPayload, `"tests_passed":true`) ||
		strings.Contains(resultPayload, `"tests_passed": true`)
}

// FailStep increments the attempt counter and either re-queues the step
// (attempt < maxAttempts) or fails it, and the job, permanently.
func (s *Service) FailStep(ctx context.Context, step *model.Step, reason string) error {
	step.Attempt++
	step.WorkerID = ""

	if step.Attempt < s.maxAttempts {
		step.State = model.StepPending
		step.StartedAt = nil
		step.FinishedAt = nil
		step.HeartbeatAt = nil
		if err := s.store.UpdateStep(ctx, step); err != nil {
			return fmt.Errorf("jobservice: requeueing failed step: %w", err)
		}
		s.publishStep(step)
		s.logger.Warn("step failed, requeuing", zap.String("step.id", step.ID), zap.Int("attempt", step.Attempt), zap.String("reason", reason))
		return nil
	}

	now := time.Now().UTC()
	step.State = model.StepFailed
	step.FinishedAt = &now
	if err := s.store.UpdateStep(ctx, step); err != nil {
		return fmt.Errorf("jobservice: permanently failing step: %w", err)
	}
	s.publishStep(step)

	job, err := s.store.GetJob(ctx, step.JobID)
	if err != nil {
		return fmt.Errorf("jobservice: loading job for permanently failed step: %w", err)
	}
	job.State = model.JobFailed
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("jobservice: failing job: %w", err)
	}
	s.publishJob(job)
	s.cleanupWorkspace(ctx, job.WorkspaceRef)
	return nil
}

// Heartbeat updates a Running step's heartbeat timestamp.
func (s *Service) Heartbeat(ctx context.Context, stepID string) error {
	return s.store.UpdateStepHeartbeat(ctx, stepID, time.Now().UTC())
}

// ReclaimStalled finds every Running step whose heartbeat has gone stale
// and fails it with a "heartbeat timed out" reason. This is the sole
// liveness mechanism for crashed workers.
func (s *Service) ReclaimStalled(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.stallCutoff)
	stalled, err := s.store.FindStalledSteps(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("jobservice: finding stalled steps: %w", err)
	}

	for _, step := range stalled {
		if err := s.FailStep(ctx, step, "heartbeat timed out"); err != nil {
			s.logger.Error("failed to reclaim stalled step", zap.Error(err), zap.String("step.id", step.ID))
		}
	}
	return len(stalled), nil
}

// CompletedResults returns every Done step's result payload for jobID,
// keyed by role and keeping the latest per role (backtracking can leave
// multiple Done steps with the same role).
func (s *Service) CompletedResults(ctx context.Context, jobID string) (map[model.AgentRole]string, error) {
	steps, err := s.store.ListSteps(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("jobservice: listing steps: %w", err)
	}

	results := make(map[model.AgentRole]string)
	for _, step := range steps {
		if step.State == model.StepDone {
			results[step.Role] = step.ResultJSON
		}
	}
	return results, nil
}

// SaveHistory persists a step's serialized conversation history.
func (s *Service) SaveHistory(ctx context.Context, stepID, serializedHistory string) error {
	return s.store.UpdateStepHistory(ctx, stepID, serializedHistory)
}

// SaveSnapshotKey persists the workspace snapshot key for a job.
func (s *Service) SaveSnapshotKey(ctx context.Context, jobID, key string) error {
	return s.store.UpdateJobSnapshotKey(ctx, jobID, key)
}

// cleanupWorkspace deletes a job's workspace after a terminal transition.
// Errors are logged and swallowed: cleanup must never roll back the
// committing transaction.
func (s *Service) cleanupWorkspace(ctx context.Context, workspaceRef string) {
	if err := s.workspace.Delete(ctx, workspaceRef); err != nil {
		s.logger.Warn("workspace cleanup failed", zap.Error(err), zap.String("workspace_ref", workspaceRef))
	}
}

// GetJob returns a job by id.
func (s *Service) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// ListSteps returns a job's steps in creation order.
func (s *Service) ListSteps(ctx context.Context, jobID string) ([]*model.Step, error) {
	return s.store.ListSteps(ctx, jobID)
}

// FinalizerReport parses the Finalizer's result payload as a JSON object.
// If the payload is not valid JSON, ok is false and the caller should
// return it as raw text instead.
func FinalizerReport(payload string) (map[string]any, bool) {
	var report map[string]any
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, false
	}
	return report, true
}
