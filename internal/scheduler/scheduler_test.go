package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrator/internal/agentloop"
	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/llmclient"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
	"github.com/fyrsmithlabs/orchestrator/internal/skills"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

type noopWorkspace struct{}

func (noopWorkspace) Create(context.Context, string, string, string) error { return nil }
func (noopWorkspace) Snapshot(context.Context, string) (workspace.SnapshotResult, error) {
	return workspace.SnapshotResult{SnapshotKey: "snap"}, nil
}
func (noopWorkspace) Restore(context.Context, string, string) error { return nil }
func (noopWorkspace) RunCode(context.Context, string, string, int) (workspace.RunResult, error) {
	return workspace.RunResult{}, nil
}
func (noopWorkspace) Delete(context.Context, string) error { return nil }

func newTestScheduler(t *testing.T, llm llmclient.Client, claimTick, reclaimTick time.Duration, poolSize int) (*Scheduler, *jobservice.Service) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ws := noopWorkspace{}
	jobs := jobservice.New(st, ws, nil, 3, 5*time.Minute)
	reg, err := skills.NewRegistry(nil, skills.ExternalExecutorSkills())
	require.NoError(t, err)
	loop := agentloop.New(jobs, llm, ws, reg, nil, agentloop.Config{
		MaxTurns: 20, HeartbeatEvery: 3, MaxObservationChars: 8000,
		HistoryResumeTokenCeiling: 150000, RateLimitBackoff: time.Millisecond,
	})

	return New(jobs, loop, nil, claimTick, reclaimTick, poolSize), jobs
}

func TestScheduler_StartIsIdempotentlyRejected(t *testing.T) {
	sched, _ := newTestScheduler(t, &llmclient.FakeClient{}, time.Hour, time.Hour, 1)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	err := sched.Start()
	require.Error(t, err)
}

func TestScheduler_ClaimTickAdvancesAPendingStep(t *testing.T) {
	llm := &llmclient.FakeClient{
		Responses: []llmclient.Response{{Text: `<result>{"summary":"mapped"}</result>`}},
	}
	sched, jobs := newTestScheduler(t, llm, 5*time.Millisecond, time.Hour, 2)

	job, err := jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		steps, err := jobs.ListSteps(context.Background(), job.ID)
		return err == nil && len(steps) > 0 && steps[0].State == model.StepDone
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_ReclaimTickLeavesFreshRunningStep(t *testing.T) {
	sched, jobs := newTestScheduler(t, &llmclient.FakeClient{}, time.Hour, 5*time.Millisecond, 1)

	job, err := jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)
	step, err := jobs.ClaimNextStep(context.Background(), "w1")
	require.NoError(t, err)

	require.NoError(t, jobs.Heartbeat(context.Background(), step.ID))

	require.NoError(t, sched.Start())
	defer sched.Stop()

	// The step was just claimed and heartbeated, so it is not yet stale
	// under the 5-minute cutoff; assert the reclaim tick runs without
	// disturbing a fresh Running step.
	time.Sleep(20 * time.Millisecond)
	steps, err := jobs.ListSteps(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepRunning, steps[0].State)
}

func TestScheduler_PanicInLoopFailsStepInsteadOfCrashing(t *testing.T) {
	llm := &panicClient{}
	sched, jobs := newTestScheduler(t, llm, 5*time.Millisecond, time.Hour, 1)

	job, err := jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	require.NoError(t, sched.Start())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		steps, err := jobs.ListSteps(context.Background(), job.ID)
		return err == nil && len(steps) > 0 && steps[0].Attempt >= 1
	}, time.Second, 5*time.Millisecond)
}

// panicClient is an llmclient.Client whose Complete always panics, used to
// exercise the scheduler's panic-recovery path around the Agent Loop.
type panicClient struct{}

func (panicClient) Complete(context.Context, string, []model.Message) (llmclient.Response, error) {
	panic("boom")
}
