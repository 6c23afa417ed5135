package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/tally-core/internal/core/ports/driven"
	"github.com/custodia-labs/tally-core/internal/core/ports/driving"
)

const sweepLockName = "scheduler:sweep"

// Scheduler periodically queues grid cells that have no response, a failed
// one or an abandoned one, and documents whose extraction stalled. It runs
// on worker nodes.
//
// For multi-worker deployments, configure a DistributedLock so only one
// instance sweeps per cycle.
type Scheduler struct {
	analysis  driving.AnalysisService
	documents driving.DocumentService
	lock      driven.DistributedLock
	logger    *slog.Logger

	// Internal state
	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration

	lockTTL      time.Duration
	sweepOnStart bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Analysis     driving.AnalysisService
	Documents    driving.DocumentService // Optional
	Lock         driven.DistributedLock  // Optional
	Logger       *slog.Logger
	PollInterval time.Duration // default: 10m
	LockTTL      time.Duration // default: half the poll interval

	// SweepOnStart runs one sweep as soon as the scheduler starts, so cells
	// left pending by a restart do not wait a full interval.
	SweepOnStart bool
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = interval / 2
	}

	return &Scheduler{
		analysis:     cfg.Analysis,
		documents:    cfg.Documents,
		lock:         cfg.Lock,
		logger:       logger,
		interval:     interval,
		lockTTL:      lockTTL,
		sweepOnStart: cfg.SweepOnStart,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.interval, "sweep_on_start", s.sweepOnStart)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	if s.sweepOnStart {
		s.Sweep(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep queues stalled extractions and outstanding cells once. It returns
// the number of tasks queued, or 0 when another instance holds the sweep lock.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if s.lock != nil {
		held, err := acquireLease(ctx, s.lock, sweepLockName, s.lockTTL, s.logger)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			return 0
		}
		if held == nil {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return 0
		}
		defer held.Release(ctx)
	}

	var queued int
	if s.documents != nil {
		n, err := s.documents.ScheduleStalled(ctx)
		if err != nil {
			s.logger.Error("failed to schedule stalled extractions", "error", err)
		} else if n > 0 {
			s.logger.Info("scheduled stalled extractions", "count", n)
			queued += n
		}
	}

	n, err := s.analysis.SchedulePending(ctx)
	if err != nil {
		s.logger.Error("failed to schedule pending cells", "error", err)
		return queued
	}
	if n > 0 {
		s.logger.Info("scheduled pending cells", "count", n)
	}
	return queued + n
}
