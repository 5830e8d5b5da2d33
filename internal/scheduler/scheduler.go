// Package scheduler triggers refresh cycles on a fixed interval without ever
// overlapping them: the calendar state advances one version per cycle, so a
// cycle still in progress when the next tick fires must finish first.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

// cycleTimeout bounds a single refresh cycle so a wedged fetch cannot block
// the schedule forever.
const cycleTimeout = 5 * time.Minute

// Scheduler runs a refresh function on a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler with the given interval.
func New(interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		interval:  interval,
		logger:    logger,
	}
}

// Start schedules run to execute immediately and then every interval.
// Singleton mode guarantees a still-running cycle is never overlapped by the
// next tick. Errors from run are logged, never fatal: the next tick retries
// with whatever state the failed cycle left committed.
func (s *Scheduler) Start(ctx context.Context, run func(context.Context) error) error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().StartImmediately().Do(func() {
		cycleCtx, cancel := context.WithTimeout(ctx, cycleTimeout)
		defer cancel()

		if err := run(cycleCtx); err != nil {
			s.logger.Error("refresh cycle failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop stops the scheduler and cancels any future runs. A cycle already in
// flight finishes on its own; the caller's context governs its deadline.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}
