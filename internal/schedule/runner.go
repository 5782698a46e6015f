// Package schedule runs the ingest, train and notify jobs on a fixed interval.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jackdeye/LAHacks/internal/observability"
)

// DefaultInterval is used when a Runner is built with a non-positive interval.
const DefaultInterval = 24 * time.Hour

// Job is one named step of a scheduled cycle.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner executes its jobs in order once per tick. A failed job is logged
// and the cycle continues with the next one.
type Runner struct {
	jobs       []Job
	interval   time.Duration
	runOnStart bool
	clock      clockwork.Clock
	metrics    *observability.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithRunOnStart runs one cycle immediately instead of waiting a full interval.
func WithRunOnStart(on bool) Option {
	return func(r *Runner) { r.runOnStart = on }
}

// NewRunner creates a Runner.
func NewRunner(interval time.Duration, jobs []Job, m *observability.Metrics, opts ...Option) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Runner{
		jobs:     jobs,
		interval: interval,
		clock:    clockwork.NewRealClock(),
		metrics:  m,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts the loop. It blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "schedule.runner"))
	log.Info("starting scheduler",
		zap.Duration("interval", r.interval),
		zap.Int("jobs", len(r.jobs)),
	)

	if r.runOnStart {
		r.Cycle(ctx)
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.Chan():
			r.Cycle(ctx)
		}
	}
}

// Cycle runs every job once, in order, and returns how many failed.
func (r *Runner) Cycle(ctx context.Context) int {
	failed := 0
	for _, job := range r.jobs {
		if ctx.Err() != nil {
			return failed
		}
		if err := r.runJob(ctx, job); err != nil {
			failed++
			zap.L().Error("schedule: job failed",
				zap.String("job", job.Name),
				zap.Error(err),
			)
		}
	}
	return failed
}

func (r *Runner) runJob(ctx context.Context, job Job) (err error) {
	start := r.clock.Now()
	defer func() {
		if p := recover(); p != nil {
			err = eris.Errorf("schedule: job %s panicked: %v", job.Name, p)
		}
		r.metrics.JobFinished(job.Name, err)
		zap.L().Debug("schedule: job finished",
			zap.String("job", job.Name),
			zap.Duration("duration", r.clock.Since(start)),
			zap.Bool("ok", err == nil),
		)
	}()
	return job.Run(ctx)
}
