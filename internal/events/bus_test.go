package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrator/internal/config"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

func TestNew_DisabledBusIsANoOp(t *testing.T) {
	bus, err := New(config.EventsConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Empty(t, bus.ClientURL())

	// Every publish call must be safe to make on a disabled bus.
	bus.PublishJobTransition(&model.Job{ID: "j1", State: model.JobDone})
	bus.PublishStepTransition(&model.Step{ID: "s1", JobID: "j1"})
	bus.Close()
}

func TestNew_PublishesJobAndStepTransitions(t *testing.T) {
	bus, err := New(config.EventsConfig{Enabled: true, Subject: "orchestrator.jobs"}, nil)
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	require.NotEmpty(t, bus.ClientURL())

	sub, err := nats.Connect(bus.ClientURL())
	require.NoError(t, err)
	defer sub.Close()

	jobCh := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("orchestrator.jobs.jobs.>", jobCh)
	require.NoError(t, err)

	stepCh := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("orchestrator.jobs.steps.>", stepCh)
	require.NoError(t, err)

	job := &model.Job{ID: "job-1", State: model.JobPlan}
	bus.PublishJobTransition(job)

	select {
	case msg := <-jobCh:
		var evt JobEvent
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		assert.Equal(t, "job-1", evt.JobID)
		assert.Equal(t, model.JobPlan, evt.State)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job event")
	}

	step := &model.Step{ID: "step-1", JobID: "job-1", Role: model.RoleTester, State: model.StepRunning, Attempt: 1}
	bus.PublishStepTransition(step)

	select {
	case msg := <-stepCh:
		var evt StepEvent
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		assert.Equal(t, "step-1", evt.StepID)
		assert.Equal(t, model.RoleTester, evt.Role)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for step event")
	}
}
