package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

type fakeWorkspace struct{}

func (fakeWorkspace) Create(context.Context, string, string, string) error { return nil }
func (fakeWorkspace) Snapshot(context.Context, string) (workspace.SnapshotResult, error) {
	return workspace.SnapshotResult{SnapshotKey: "snap"}, nil
}
func (fakeWorkspace) Restore(context.Context, string, string) error { return nil }
func (fakeWorkspace) RunCode(context.Context, string, string, int) (workspace.RunResult, error) {
	return workspace.RunResult{}, nil
}
func (fakeWorkspace) Delete(context.Context, string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	jobs := jobservice.New(st, fakeWorkspace{}, nil, 3, 5*time.Minute)
	return New(jobs, nil)
}

func TestHandleSubmit_HappyPathReturns201(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitRequest{RepoURL: "git://example/r.git", TaskDescription: "fix bug"})
	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, 201, rec.Code)
	var resp jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "main", resp.GitRef)
	assert.Equal(t, string(model.JobMapRepo), resp.State)
}

func TestHandleSubmit_MissingRepoURLReturns400(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(submitRequest{})
	req := httptest.NewRequest("POST", "/jobs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHandleGetJob_UnknownReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/jobs/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleGetJob_KnownJobReturns200(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestHandleListSteps_ReturnsStepsInCreationOrder(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/jobs/"+job.ID+"/steps", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var steps []stepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, string(model.RoleRepoMapper), steps[0].Role)
}

func TestHandleReport_PendingReturns202(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/jobs/"+job.ID+"/report", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 202, rec.Code)
}

func TestHandleReport_UnknownJobReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/jobs/does-not-exist/report", nil)
	rec := httptest.NewRecorder()

	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestHandleReport_FinalizerDoneReturnsEnrichedReport(t *testing.T) {
	s := newTestServer(t)
	job, err := s.jobs.Submit(context.Background(), "git://example/r.git", "main", "", "")
	require.NoError(t, err)

	// Drive the job straight through to a completed Finalizer step.
	for range model.Pipeline {
		step, err := s.jobs.ClaimNextStep(context.Background(), "w1")
		require.NoError(t, err)
		require.NotNil(t, step)
		payload := `{"summary":"done"}`
		if step.Role == model.RoleTester {
			payload = `{"tests_passed":true}`
		}
		require.NoError(t, s.jobs.CompleteStep(context.Background(), step, payload))
	}

	req := httptest.NewRequest("GET", "/jobs/"+job.ID+"/report", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var report map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "done", report["summary"])
	assert.Equal(t, job.ID, report["jobId"])
	assert.Equal(t, string(model.JobDone), report["jobState"])
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
