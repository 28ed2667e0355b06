package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
)

// submitRequest is the POST /jobs body, per spec.md §6.
type submitRequest struct {
	RepoURL         string `json:"repoUrl"`
	GitRef          string `json:"gitRef"`
	TaskDescription string `json:"taskDescription"`
	FailingTest     string `json:"failingTest"`
	GitHubIssueURL  string `json:"githubIssueUrl"`
}

// jobResponse is the shape returned by POST /jobs and GET /jobs/{id}.
type jobResponse struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	RepoURL   string    `json:"repoUrl"`
	GitRef    string    `json:"gitRef"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func jobToResponse(job *model.Job) jobResponse {
	return jobResponse{
		ID:        job.ID,
		State:     string(job.State),
		RepoURL:   job.RepoURL,
		GitRef:    job.GitRef,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

// stepResponse is one entry in the GET /jobs/{id}/steps list.
type stepResponse struct {
	ID          string     `json:"id"`
	Role        string     `json:"role"`
	State       string     `json:"state"`
	Attempt     int        `json:"attempt"`
	WorkerID    string     `json:"workerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	HeartbeatAt *time.Time `json:"heartbeatAt"`
	ResultJSON  string     `json:"resultJson"`
}

func stepToResponse(step *model.Step) stepResponse {
	return stepResponse{
		ID:          step.ID,
		Role:        string(step.Role),
		State:       string(step.State),
		Attempt:     step.Attempt,
		WorkerID:    step.WorkerID,
		CreatedAt:   step.CreatedAt,
		StartedAt:   step.StartedAt,
		FinishedAt:  step.FinishedAt,
		HeartbeatAt: step.HeartbeatAt,
		ResultJSON:  step.ResultJSON,
	}
}

// handleSubmit handles POST /jobs.
func (s *Server) handleSubmit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RepoURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "repoUrl is required")
	}

	job, err := s.jobs.SubmitWithIssue(c.Request().Context(), req.RepoURL, req.GitRef, req.TaskDescription, req.FailingTest, req.GitHubIssueURL)
	if err != nil {
		s.logger.Warn("job submission rejected", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, jobToResponse(job))
}

// handleGetJob handles GET /jobs/{id}.
func (s *Server) handleGetJob(c echo.Context) error {
	job, err := s.jobs.GetJob(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if err != nil {
		s.logger.Error("failed to load job", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	return c.JSON(http.StatusOK, jobToResponse(job))
}

// handleListSteps handles GET /jobs/{id}/steps.
func (s *Server) handleListSteps(c echo.Context) error {
	jobID := c.Param("id")
	if _, err := s.jobs.GetJob(c.Request().Context(), jobID); errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	} else if err != nil {
		s.logger.Error("failed to load job", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	steps, err := s.jobs.ListSteps(c.Request().Context(), jobID)
	if err != nil {
		s.logger.Error("failed to list steps", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	out := make([]stepResponse, 0, len(steps))
	for _, step := range steps {
		out = append(out, stepToResponse(step))
	}
	return c.JSON(http.StatusOK, out)
}

// handleReport handles GET /jobs/{id}/report.
func (s *Server) handleReport(c echo.Context) error {
	jobID := c.Param("id")
	job, err := s.jobs.GetJob(c.Request().Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if err != nil {
		s.logger.Error("failed to load job", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	steps, err := s.jobs.ListSteps(c.Request().Context(), jobID)
	if err != nil {
		s.logger.Error("failed to list steps", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	var finalizer *model.Step
	for _, step := range steps {
		if step.Role == model.RoleFinalizer && step.State == model.StepDone {
			finalizer = step
		}
	}
	if finalizer == nil {
		return c.JSON(http.StatusAccepted, map[string]any{"status": "pending", "jobState": string(job.State)})
	}

	report, ok := jobservice.FinalizerReport(finalizer.ResultJSON)
	if !ok {
		report = map[string]any{"report": finalizer.ResultJSON}
	}
	report["jobId"] = job.ID
	report["jobState"] = string(job.State)
	report["createdAt"] = job.CreatedAt
	report["updatedAt"] = job.UpdatedAt
	report["iterations"] = job.IterationCount

	return c.JSON(http.StatusOK, report)
}
