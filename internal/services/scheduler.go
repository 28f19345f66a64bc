package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// StartResult reports what Start actually did, so callers can surface a
// missing or disabled schedule instead of silently doing nothing.
type StartResult int

const (
	StartStarted StartResult = iota
	StartNotConfigured
	StartDisabled
)

func (r StartResult) String() string {
	switch r {
	case StartStarted:
		return "started"
	case StartNotConfigured:
		return "not configured"
	case StartDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Scheduler owns the single recurring trigger for automatic backups. It holds
// at most one live cron runner; Start replaces any previous one, Stop is
// idempotent, and neither ever interrupts a cycle already in flight.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	store    *ScheduleStore
	executor *Executor
	logger   *zap.Logger
}

func NewScheduler(store *ScheduleStore, executor *Executor, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger,
	}
}

// Start reads the current schedule and registers the recurring trigger. A
// missing or disabled schedule is not an error; the result says which, and
// the caller decides whether that matters.
func (s *Scheduler) Start(ctx context.Context) (StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	cfg, err := s.store.Config(ctx)
	if err != nil {
		s.logger.Warn("backup scheduler not started: no schedule configured")
		return StartNotConfigured, nil
	}
	if !cfg.IsEnabled {
		s.logger.Info("backup scheduler not started: schedule disabled")
		return StartDisabled, nil
	}

	expr := CronExpression(cfg)
	runner := cron.New(cron.WithLocation(ScheduleLocation(cfg)))
	if _, err := runner.AddFunc(expr, s.fire); err != nil {
		return StartNotConfigured, fmt.Errorf("invalid trigger expression %q: %w", expr, err)
	}
	runner.Start()
	s.cron = runner

	next := NextRunAfter(cfg, time.Now())
	if err := s.store.SetNextRun(ctx, next); err != nil {
		s.logger.Warn("failed to persist next run", zap.Error(err))
	}

	s.logger.Info("backup scheduler started",
		zap.String("cron", expr),
		zap.String("timezone", ScheduleLocation(cfg).String()),
		zap.Time("next_run", next))
	return StartStarted, nil
}

// Stop cancels the recurring trigger. Safe to call when nothing is running;
// a cycle already in flight is never interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
		s.logger.Info("backup scheduler stopped")
	}
}

// Restart applies the latest schedule configuration. Start already clears
// the previous trigger, so the end state is always at most one live timer.
func (s *Scheduler) Restart(ctx context.Context) (StartResult, error) {
	return s.Start(ctx)
}

// Running reports whether a trigger is registered.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// fire runs one automatic cycle, then recomputes the next fire instant from
// a fresh config read so changes made mid-cycle apply to the following fire.
func (s *Scheduler) fire() {
	s.executor.RunScheduled()

	cfg, err := s.store.Config(context.Background())
	if err != nil || !cfg.IsEnabled {
		return
	}
	next := NextRunAfter(cfg, time.Now())
	if err := s.store.SetNextRun(context.Background(), next); err != nil {
		s.logger.Warn("failed to persist next run", zap.Error(err))
	}
}
