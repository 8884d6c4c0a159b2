// Package scheduler runs named background jobs on fixed intervals.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is the work done on each run. Returned errors are logged; the job
// keeps its schedule.
type Job func(ctx context.Context) error

// Scheduler wraps a gocron scheduler. Runs of the same job never overlap.
type Scheduler struct {
	s      gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func New(logger *slog.Logger) (*Scheduler, error) {
	logger = logger.With("component", "scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{s: s, ctx: ctx, cancel: cancel, logger: logger}, nil
}

// Every schedules job to run every interval, starting one interval after
// Start.
func (sc *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}

	_, err := sc.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sc.run, name, job),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}

	sc.logger.Info("job scheduled", "name", name, "interval", interval)
	return nil
}

func (sc *Scheduler) run(name string, job Job) {
	start := time.Now()
	if err := job(sc.ctx); err != nil {
		sc.logger.Error("job failed", "name", name, "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return
	}
	sc.logger.Debug("job finished", "name", name, "duration", time.Since(start).Round(time.Millisecond))
}

// Jobs returns the names of scheduled jobs.
func (sc *Scheduler) Jobs() []string {
	jobs := sc.s.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (sc *Scheduler) Start() {
	sc.s.Start()
}

// Shutdown cancels running jobs' context and waits for them to return.
func (sc *Scheduler) Shutdown() error {
	sc.cancel()
	if err := sc.s.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}
