package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/agentloop"
	"github.com/fyrsmithlabs/orchestrator/internal/config"
	"github.com/fyrsmithlabs/orchestrator/internal/events"
	"github.com/fyrsmithlabs/orchestrator/internal/httpapi"
	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/llmclient"
	"github.com/fyrsmithlabs/orchestrator/internal/logging"
	"github.com/fyrsmithlabs/orchestrator/internal/memory"
	"github.com/fyrsmithlabs/orchestrator/internal/policy"
	"github.com/fyrsmithlabs/orchestrator/internal/repoenrich"
	"github.com/fyrsmithlabs/orchestrator/internal/scheduler"
	"github.com/fyrsmithlabs/orchestrator/internal/secrets"
	"github.com/fyrsmithlabs/orchestrator/internal/skills"
	"github.com/fyrsmithlabs/orchestrator/internal/store"
	"github.com/fyrsmithlabs/orchestrator/internal/telemetry"
	"github.com/fyrsmithlabs/orchestrator/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return run(ctx)
}

// dependencies holds infrastructure this process opens or connects to and
// must release on shutdown.
type dependencies struct {
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	store     *store.Store
	events    *events.Bus
	memory    *memory.Memory
}

func (d *dependencies) Close(ctx context.Context) {
	if d.events != nil {
		d.events.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(ctx)
	}
	if d.logger != nil {
		_ = d.logger.Sync()
	}
}

// services holds the constructed business services, wired together in the
// order the pipeline depends on them: store, workspace, LLM, and skills
// feed the Job Service and Agent Loop; the Job Service and Agent Loop feed
// the Scheduler and the HTTP ingress.
type services struct {
	jobs      *jobservice.Service
	scheduler *scheduler.Scheduler
	http      *httpapi.Server
}

// run initializes every component in dependency order, starts the
// scheduler and the HTTP server, and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	deps, err := initDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close(context.Background())

	logger := deps.logger.Underlying()
	logger.Info("starting orchestratord",
		zap.String("listen_addr", cfg.HTTP.ListenAddr),
		zap.String("store", cfg.Store.Path))

	svc, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	if err := svc.scheduler.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer svc.scheduler.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.http.Start(cfg.HTTP.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := svc.http.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	return nil
}

func initDependencies(ctx context.Context, cfg *config.Config) (*dependencies, error) {
	tel, err := telemetry.New(ctx, telemetry.NewDefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := logging.NewLogger(logging.NewDefaultConfig(), tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	bus, err := events.New(cfg.Events, logger.Underlying())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("initializing event bus: %w", err)
	}

	mem, err := memory.New(cfg.Memory, logger.Underlying())
	if err != nil {
		logger.Underlying().Warn("remediation memory disabled: failed to initialize", zap.Error(err))
		mem, _ = memory.New(config.MemoryConfig{Enabled: false}, logger.Underlying())
	}

	return &dependencies{logger: logger, telemetry: tel, store: st, events: bus, memory: mem}, nil
}

func initServices(cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	ws := workspace.NewHTTPClient(cfg.Workspace.BaseURL, cfg.Workspace.RequestTimeout.Duration(), cfg.Workspace.DeleteTimeout.Duration())
	llm := llmclient.NewAnthropicClient(cfg.LLM.APIKey.Value(), cfg.LLM.Model, cfg.LLM.MaxTokens)

	enricher := repoenrich.New(cfg.RepoEnrich, logger)

	descriptors := skills.ExternalExecutorSkills()
	descriptors = append(descriptors, secrets.ScanSecretsSkill())
	descriptors = append(descriptors, policy.CheckPolicySkill())
	if deps.memory != nil {
		descriptors = append(descriptors, deps.memory.Skills()...)
	}
	descriptors = append(descriptors, enricher.FetchIssueSkill())
	registry, err := skills.NewRegistry(logger, descriptors)
	if err != nil {
		return nil, fmt.Errorf("building skill registry: %w", err)
	}

	jobs := jobservice.New(deps.store, ws, logger, cfg.Step.MaxAttempts, cfg.Scheduler.StallCutoff.Duration())
	jobs.SetEvents(deps.events)

	loop := agentloop.New(jobs, llm, ws, registry, logger, agentloop.Config{
		MaxTurns:                  cfg.AgentLoop.MaxTurns,
		HeartbeatEvery:            cfg.AgentLoop.HeartbeatEvery,
		MaxObservationChars:       cfg.AgentLoop.MaxObservationChars,
		HistoryResumeTokenCeiling: cfg.AgentLoop.HistoryResumeTokenCeiling,
		RateLimitBackoff:          cfg.AgentLoop.RateLimitBackoff.Duration(),
	})
	loop.SetMemory(deps.memory)

	sched := scheduler.New(jobs, loop, logger, cfg.Scheduler.ClaimTick.Duration(), cfg.Scheduler.ReclaimTick.Duration(), cfg.Scheduler.WorkerPoolSize)

	srv := httpapi.New(jobs, logger)

	return &services{jobs: jobs, scheduler: sched, http: srv}, nil
}
