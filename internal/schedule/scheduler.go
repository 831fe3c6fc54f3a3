// Package schedule launches recurring unattended runs on a cron cadence.
// Runs are long (minutes, bounded by the poll ceiling), so the scheduler
// keeps at most one run in flight and skips ticks that land mid-run, and a
// failure breaker stops launching runs after a streak of failed ones.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner is the interface the scheduler drives. Satisfied by the pipeline
// orchestrator (avoids import cycle).
type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler fires a Runner whenever a cron expression is due.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	breaker  *Breaker
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   bool
	nextRun    time.Time
}

// NewScheduler creates a Scheduler for the given five-field cron expression.
func NewScheduler(cronExpr string, runner Runner, breaker *Breaker, logger *slog.Logger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	if breaker == nil {
		breaker = NewBreaker(DefaultBreakerConfig())
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		breaker:  breaker,
		logger:   logger,
		interval: 15 * time.Second,
		nextRun:  schedule.Next(time.Now()),
	}, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", "next_run", s.NextRun().Format(time.RFC3339))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches a run when one is due, the previous run has finished and the
// breaker allows it. Ticks landing mid-run are dropped, not queued: a missed
// slot simply waits for the next cron occurrence.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.inflightMu.Lock()
	due := !s.nextRun.After(now)
	if !due || s.inflight {
		s.inflightMu.Unlock()
		return
	}
	s.inflight = true
	s.nextRun = s.schedule.Next(now)
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		s.inflight = false
		s.inflightMu.Unlock()
	}()

	if err := s.breaker.Allow(); err != nil {
		s.logger.Warn("skipping scheduled run", "error", err.Error())
		return
	}

	s.logger.Info("launching scheduled run")
	if err := s.runner.Run(ctx); err != nil {
		state := s.breaker.RecordFailure()
		s.logger.Error("scheduled run failed",
			slog.String("error", err.Error()),
			slog.String("breaker_state", state.String()))
		return
	}
	s.breaker.RecordSuccess()
	s.logger.Info("scheduled run finished", "next_run", s.NextRun().Format(time.RFC3339))
}

// NextRun returns the next scheduled launch time.
func (s *Scheduler) NextRun() time.Time {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	return s.nextRun
}

// Stop gracefully shuts down the scheduler, waiting for the loop to exit.
// An in-flight run is cancelled through the context passed to Start.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
