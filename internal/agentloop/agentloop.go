// Package agentloop is the CodeAct multi-turn agent: for a single claimed
// step it drives a conversation with the LLM, executes the code actions it
// emits against the workspace sandbox, and feeds the observations back
// until the agent produces a terminal <result> block or exhausts its turn
// budget.
package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/llmclient"
	"github.com/fyrsmithlabs/orchestrator/internal/logging"
	"github.com/fyrsmithlabs/orchestrator/internal/memory"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
	"github.com/fyrsmithlabs/orchestrator/internal/secrets"
	"github.com/fyrsmithlabs/orchestrator/internal/skills"
	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

// codeTimeoutSeconds is the wall-clock budget given to every code action,
// per spec.md §4.4/§5.
const codeTimeoutSeconds = 300

// Config bounds one Loop's behaviour; the zero value is not usable —
// build via config.AgentLoopConfig's fields.
type Config struct {
	MaxTurns                  int
	HeartbeatEvery            int
	MaxObservationChars       int
	HistoryResumeTokenCeiling int
	RateLimitBackoff          time.Duration
}

// Loop is the CodeAct agent loop. It is stateless across Run calls; all
// state lives in the Job/Step rows the JobService reads and writes.
type Loop struct {
	jobs      *jobservice.Service
	llm       llmclient.Client
	workspace workspace.Client
	registry  *skills.Registry
	logger    *zap.Logger
	cfg       Config
	mem       *memory.Memory
}

// New builds a Loop.
func New(jobs *jobservice.Service, llm llmclient.Client, ws workspace.Client, registry *skills.Registry, logger *zap.Logger, cfg Config) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{jobs: jobs, llm: llm, workspace: ws, registry: registry, logger: logger, cfg: cfg}
}

// SetMemory attaches the Remediation Memory after construction, so
// callers that don't want one (most tests) never need to pass one. A nil
// or never-set Memory makes RepoMapper/Planner prompts skip the past-
// remediations block and Finalizer skip recording.
func (l *Loop) SetMemory(m *memory.Memory) {
	l.mem = m
}

// Run executes the full agent loop for one claimed step. It blocks until
// the step reaches a terminal outcome — completeStep or failStep, both
// durable — or the caller's context is cancelled. Every exit path clears
// the diagnostic context it installs, since the calling worker thread will
// be reused for the next claimed step.
func (l *Loop) Run(ctx context.Context, step *model.Step, job *model.Job) {
	ctx = logging.WithJobID(ctx, job.ID)
	ctx = logging.WithStepID(ctx, step.ID)
	ctx = logging.WithRole(ctx, string(step.Role))
	ctx = logging.WithAttempt(ctx, step.Attempt)

	l.logger.Info("starting agent loop",
		zap.String("job.id", job.ID), zap.String("step.id", step.ID),
		zap.String("role", string(step.Role)), zap.Int("attempt", step.Attempt))

	if step.Role == model.RoleImplementer {
		l.snapshotBeforeImplementer(ctx, job, step)
	}

	priorResults, err := l.jobs.CompletedResults(ctx, job.ID)
	if err != nil {
		l.logger.Error("failed to load prior results", zap.Error(err))
		priorResults = map[model.AgentRole]string{}
	}

	history := l.loadOrInitHistory(ctx, step, job, priorResults)
	sysPrompt := systemPrompt(step.Role, l.registry.BuildToolDocumentation())

	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		resp, err := l.llm.Complete(ctx, sysPrompt, history)
		if err != nil {
			if errors.Is(err, llmclient.ErrRateLimited) {
				l.logger.Warn("rate limited, backing off", zap.Int("turn", turn), zap.Duration("backoff", l.cfg.RateLimitBackoff))
				select {
				case <-time.After(l.cfg.RateLimitBackoff):
				case <-ctx.Done():
					return
				}
				turn--
				continue
			}
			if failErr := l.jobs.FailStep(ctx, step, fmt.Sprintf("LLM error: %v", err)); failErr != nil {
				l.logger.Error("failed to record step failure", zap.Error(failErr))
			}
			return
		}

		history = append(history, model.Message{Role: "assistant", Content: resp.Text})

		if result, ok := extractResult(resp.Text); ok {
			l.logger.Info("step completed", zap.String("step.id", step.ID), zap.Int("turns", turn))
			if err := l.jobs.CompleteStep(ctx, step, result); err != nil {
				l.logger.Error("failed to complete step", zap.Error(err))
			} else if step.Role == model.RoleFinalizer {
				l.recordRemediation(ctx, job, priorResults, result)
			}
			return
		}

		var observation string
		if code, ok := extractCodeBlock(resp.Text); ok {
			observation = l.executeCode(ctx, job.WorkspaceRef, code)
		} else {
			observation = "Continue; use a code block or emit a <result> block when done."
		}

		history = append(history, model.Message{Role: "user", Content: "Observation:\n" + observation})

		if serialized, err := json.Marshal(history); err != nil {
			l.logger.Warn("failed to serialize history", zap.Error(err))
		} else if err := l.jobs.SaveHistory(ctx, step.ID, string(serialized)); err != nil {
			l.logger.Warn("failed to persist history", zap.Error(err))
		}

		if turn%l.cfg.HeartbeatEvery == 0 {
			if err := l.jobs.Heartbeat(ctx, step.ID); err != nil {
				l.logger.Warn("failed to record heartbeat", zap.Error(err))
			}
		}
	}

	l.logger.Warn("max turns reached without a result", zap.String("step.id", step.ID), zap.Int("max_turns", l.cfg.MaxTurns))
	if err := l.jobs.FailStep(ctx, step, fmt.Sprintf("max turns (%d) reached without producing a <result> tag", l.cfg.MaxTurns)); err != nil {
		l.logger.Error("failed to record max-turns failure", zap.Error(err))
	}
}

// loadOrInitHistory deserializes step.ConversationHistory if present and
// small enough to safely resume, otherwise builds a fresh initial prompt.
func (l *Loop) loadOrInitHistory(ctx context.Context, step *model.Step, job *model.Job, priorResults map[model.AgentRole]string) []model.Message {
	saved := step.ConversationHistory
	if saved != "" {
		estimatedTokens := len(saved) / 4
		if estimatedTokens > l.cfg.HistoryResumeTokenCeiling {
			l.logger.Warn("saved history too large to resume safely, starting fresh",
				zap.String("step.id", step.ID), zap.Int("estimated_tokens", estimatedTokens))
		} else {
			var restored []model.Message
			if err := json.Unmarshal([]byte(saved), &restored); err != nil {
				l.logger.Warn("could not deserialize saved history, starting fresh", zap.Error(err))
			} else {
				l.logger.Info("resuming from saved history", zap.String("step.id", step.ID), zap.Int("messages", len(restored)))
				return restored
			}
		}
	}

	initial := buildInitialPrompt(step.Role, job.TaskDescription, job.FailingTest, job.GitHubIssueURL, l.memoryContext(ctx, step.Role, job.TaskDescription), priorResults)
	return []model.Message{{Role: "user", Content: initial}}
}

// memoryContext searches the Remediation Memory for precedent relevant to
// taskDescription, formatted as a numbered list ready to drop into the
// initial prompt. Only RepoMapper and Planner consult memory; every other
// role, and any job with no memory attached, gets an empty string.
func (l *Loop) memoryContext(ctx context.Context, role model.AgentRole, taskDescription string) string {
	if l.mem == nil || !l.mem.IsEnabled() {
		return ""
	}
	if role != model.RoleRepoMapper && role != model.RolePlanner {
		return ""
	}
	if taskDescription == "" {
		return ""
	}

	matches := l.mem.Search(ctx, taskDescription)
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Summary)
	}
	return b.String()
}

// recordRemediation writes the completed run's outcome to the
// Remediation Memory once the Finalizer step completes. It never blocks
// the step's own completion — recording happens after CompleteStep has
// already committed.
func (l *Loop) recordRemediation(ctx context.Context, job *model.Job, priorResults map[model.AgentRole]string, finalizerResult string) {
	if l.mem == nil || !l.mem.IsEnabled() {
		return
	}
	l.mem.Record(ctx, memory.Entry{
		JobID:           job.ID,
		TaskDescription: job.TaskDescription,
		Diagnosis:       priorResults[model.RolePlanner],
		FixSummary:      finalizerResult,
		TestsPassed:     !isReplan(priorResults[model.RoleTester]),
	})
}

// executeCode runs code in the workspace sandbox and formats the result
// (or a synthetic executor-unreachable observation on transport failure)
// into the truncated observation string the agent reads next turn. The
// observation is scrubbed for secrets before it ever reaches the model or
// the persisted history: sandboxed code routinely cats config files and
// env vars while debugging, and those are exactly the outputs most likely
// to carry a credential.
func (l *Loop) executeCode(ctx context.Context, workspaceRef, code string) string {
	result, err := l.workspace.RunCode(ctx, workspaceRef, code, codeTimeoutSeconds)
	if err != nil {
		return truncateObservation(fmt.Sprintf("error_type: EXECUTOR_UNREACHABLE\nstderr: %v", err), l.cfg.MaxObservationChars)
	}
	observation := formatObservation(result)
	if scrubbed, _, err := secrets.Redact(observation); err != nil {
		l.logger.Warn("secret scan failed, persisting observation unscrubbed", zap.Error(err))
	} else {
		observation = scrubbed
	}
	return truncateObservation(observation, l.cfg.MaxObservationChars)
}

// snapshotBeforeImplementer guarantees every Implementer attempt starts
// from the pristine pre-implementation state: if the job already carries a
// snapshot key (a retry, or a post-backtrack re-entry) it is restored
// first, then a fresh snapshot is taken and its key saved. Both steps
// degrade to "no rollback available" on failure rather than failing the
// step — losing rollback safety is preferable to losing a repair attempt.
func (l *Loop) snapshotBeforeImplementer(ctx context.Context, job *model.Job, step *model.Step) {
	if job.SnapshotKey != "" {
		if err := l.workspace.Restore(ctx, job.WorkspaceRef, job.SnapshotKey); err != nil {
			l.logger.Warn("could not restore snapshot before implementer, starting from current state",
				zap.String("snapshot_key", job.SnapshotKey), zap.Error(err))
		} else {
			l.logger.Info("restored workspace to snapshot before implementer",
				zap.String("snapshot_key", job.SnapshotKey), zap.String("step.id", step.ID))
		}
	}

	snap, err := l.workspace.Snapshot(ctx, job.WorkspaceRef)
	if err != nil {
		l.logger.Warn("could not snapshot workspace before implementer, rollback unavailable", zap.Error(err))
		return
	}
	if err := l.jobs.SaveSnapshotKey(ctx, job.ID, snap.SnapshotKey); err != nil {
		l.logger.Warn("could not persist snapshot key", zap.Error(err))
		return
	}
	job.SnapshotKey = snap.SnapshotKey
	l.logger.Info("snapshot taken before implementer", zap.String("snapshot_key", snap.SnapshotKey), zap.String("step.id", step.ID))
}
