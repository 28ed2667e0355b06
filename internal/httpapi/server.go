// Package httpapi is the job-control HTTP ingress: a thin binding of the
// four routes spec.md §6 specifies to the Job Service and durable store,
// plus a health check and a Prometheus scrape endpoint in the teacher's
// ambient style. It implements no auth, TLS termination, or rate
// limiting — those remain out of scope per spec.md's Non-goals.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
)

// Server binds the job-control routes to a Job Service.
type Server struct {
	echo   *echo.Echo
	jobs   *jobservice.Service
	logger *zap.Logger
}

// New builds a Server and registers its routes.
func New(jobs *jobservice.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, jobs: jobs, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/jobs", s.handleSubmit)
	s.echo.GET("/jobs/:id", s.handleGetJob)
	s.echo.GET("/jobs/:id/steps", s.handleListSteps)
	s.echo.GET("/jobs/:id/report", s.handleReport)
}

// Echo exposes the underlying instance for tests and for registering
// additional routes at wiring time (e.g. pprof in a debug build).
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Start starts the HTTP server on addr, blocking until it stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
