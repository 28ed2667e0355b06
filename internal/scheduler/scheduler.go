// Package scheduler drives the periodic claim tick and stall-reclaim tick
// that turn Pending steps into running Agent Loop executions, and the
// bounded worker pool that executes them.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrator/internal/agentloop"
	"github.com/fyrsmithlabs/orchestrator/internal/jobservice"
	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// Scheduler dispatches claimed steps to a bounded pool of Agent Loop
// workers and reclaims steps whose heartbeat has gone stale. It is the
// only component that starts goroutines running the Agent Loop.
type Scheduler struct {
	jobs        *jobservice.Service
	loop        *agentloop.Loop
	logger      *zap.Logger
	claimTick   time.Duration
	reclaimTick time.Duration

	sem       chan struct{}
	workerSeq uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds a Scheduler. workerPoolSize bounds the number of Agent Loop
// executions running concurrently across all jobs.
func New(jobs *jobservice.Service, loop *agentloop.Loop, logger *zap.Logger, claimTick, reclaimTick time.Duration, workerPoolSize int) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workerPoolSize < 1 {
		workerPoolSize = 1
	}
	return &Scheduler{
		jobs:        jobs,
		loop:        loop,
		logger:      logger,
		claimTick:   claimTick,
		reclaimTick: reclaimTick,
		sem:         make(chan struct{}, workerPoolSize),
	}
}

// Start begins the claim-tick and reclaim-tick goroutines. Idempotent:
// calling Start on an already-running Scheduler returns an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler: already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("scheduler started", zap.Duration("claim_tick", s.claimTick), zap.Duration("reclaim_tick", s.reclaimTick))

	s.wg.Add(2)
	go s.runClaimLoop()
	go s.runReclaimLoop()

	return nil
}

// Stop signals both background goroutines to exit and waits for every
// in-flight Agent Loop execution to finish before returning.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.Info("scheduler stopping, waiting for in-flight steps")
	s.wg.Wait()
}

// runClaimLoop produces at most one claim per tick, per spec.md §5's
// concurrency model, and dispatches it into the bounded worker pool.
func (s *Scheduler) runClaimLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.claimTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.claimAndDispatch()
		case <-s.stopCh:
			return
		}
	}
}

// runReclaimLoop runs on its own periodic timer, independent of the
// claim loop, per spec.md §5.
func (s *Scheduler) runReclaimLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reclaimTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeReclaim()
		case <-s.stopCh:
			return
		}
	}
}

// claimAndDispatch tries to claim one Pending step and, if one exists,
// runs its Agent Loop in a pool-bounded goroutine. It never blocks the
// claim ticker waiting for a worker slot longer than it takes to check
// availability — if the pool is saturated the claimed step still runs,
// just serialized behind the semaphore acquire inside the goroutine.
func (s *Scheduler) claimAndDispatch() {
	ctx := context.Background()
	workerID := fmt.Sprintf("worker-%d", atomic.AddUint64(&s.workerSeq, 1))

	step, err := s.jobs.ClaimNextStep(ctx, workerID)
	if err != nil {
		s.logger.Error("claim tick failed", zap.Error(err))
		return
	}
	if step == nil {
		return
	}

	job, err := s.jobs.GetJob(ctx, step.JobID)
	if err != nil {
		s.logger.Error("failed to load job for claimed step", zap.Error(err), zap.String("step.id", step.ID))
		if failErr := s.jobs.FailStep(ctx, step, fmt.Sprintf("could not load job: %v", err)); failErr != nil {
			s.logger.Error("failed to record step failure", zap.Error(failErr))
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
		s.safeRunLoop(step, job)
	}()
}

// safeRunLoop wraps a single Agent Loop execution with panic recovery: a
// panicking worker fails its step and its attempt is retried rather than
// crashing the scheduler.
func (s *Scheduler) safeRunLoop(step *model.Step, job *model.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("agent loop panicked, recovering", zap.Any("panic", r), zap.String("step.id", step.ID))
			if err := s.jobs.FailStep(context.Background(), step, fmt.Sprintf("panic: %v", r)); err != nil {
				s.logger.Error("failed to record step failure after panic", zap.Error(err))
			}
		}
	}()

	s.loop.Run(context.Background(), step, job)
}

// safeReclaim wraps ReclaimStalled with panic recovery, mirroring
// safeRunLoop — a single reclaim-tick failure must not stop the reaper.
func (s *Scheduler) safeReclaim() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reclaim tick panicked, recovering", zap.Any("panic", r))
		}
	}()

	n, err := s.jobs.ReclaimStalled(context.Background())
	if err != nil {
		s.logger.Error("reclaim tick failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("reclaimed stalled steps", zap.Int("count", n))
	}
}
