// Package worker runs the background jobs of the ledger: the session sweeper
// and the balance poller.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals. A job that is still running when
// its next tick arrives is skipped for that tick.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{sched: sched, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Every registers job to run each interval. With immediate set the first run
// starts as soon as the scheduler does.
func (s *Scheduler) Every(interval time.Duration, job Job, immediate bool) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name())
	}
	opts := []gocron.JobOption{
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			start := time.Now()
			if err := job.Run(s.ctx); err != nil {
				s.logger.Error("Job failed", "job", job.Name(), "error", err)
				return
			}
			s.logger.Debug("Job finished", "job", job.Name(), "duration", time.Since(start))
		}),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	s.logger.Info("Scheduled job", "job", job.Name(), "interval", interval)
	return nil
}

// Start starts running jobs.
func (s *Scheduler) Start() {
	s.sched.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.sched.Shutdown()
}
