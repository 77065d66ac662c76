// Package jobs runs periodic work with restart-on-failure and job-class exclusion.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultRestartBackoff is the pause between a failed run and its restart.
const DefaultRestartBackoff = 30 * time.Second

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// Exclusive jobs never run at the same time as each other.
	Exclusive bool
	// Immediate runs the job once at start instead of waiting for the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
	// OnFailure is called after every failed run, before the restart backoff.
	OnFailure func(err error)
}

// Observer receives the outcome of every run.
type Observer func(job string, took time.Duration, err error)

// Runner drives a set of jobs, one goroutine per job.
type Runner struct {
	jobs     []Job
	restart  time.Duration
	observer Observer
	log      *zap.Logger

	exclusive chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// Option customises a Runner.
type Option func(*Runner)

// WithObserver registers a per-run callback.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// NewRunner creates a runner. A non-positive restart uses DefaultRestartBackoff.
func NewRunner(restart time.Duration, log *zap.Logger, jobs []Job, opts ...Option) *Runner {
	if restart <= 0 {
		restart = DefaultRestartBackoff
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		jobs:      jobs,
		restart:   restart,
		log:       log.Named("jobs"),
		exclusive: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Name() string { return "jobs" }

// Start validates the jobs and launches them. Jobs stop when ctx ends or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	for _, job := range r.jobs {
		if job.Name == "" || job.Run == nil {
			return fmt.Errorf("jobs: job %q has no name or run function", job.Name)
		}
		if job.Interval <= 0 {
			return fmt.Errorf("jobs: job %s has non-positive interval %s", job.Name, job.Interval)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("jobs: runner already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
		r.log.Info("job scheduled",
			zap.String("job", job.Name), zap.Duration("interval", job.Interval), zap.Bool("exclusive", job.Exclusive))
	}
	return nil
}

// Stop cancels every job and waits for running ones to return, or for ctx to end.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("jobs still running at shutdown deadline")
	}
}

// RunOnce runs the named job a single time under the same exclusion rules, without restarts.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	for _, job := range r.jobs {
		if job.Name == name {
			return r.execute(ctx, job)
		}
	}
	return fmt.Errorf("jobs: unknown job %q", name)
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	if job.Immediate {
		r.runUntilSuccess(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runUntilSuccess(ctx, job)
		}
	}
}

// runUntilSuccess retries a failing job after a fixed backoff until it succeeds or ctx ends.
func (r *Runner) runUntilSuccess(ctx context.Context, job Job) {
	attempts := 0
	operation := func() error {
		attempts++
		return r.execute(ctx, job)
	}
	notify := func(err error, wait time.Duration) {
		r.log.Error("job failed, restarting",
			zap.String("job", job.Name),
			zap.Int("attempt", attempts),
			zap.Duration("next_retry_in", wait),
			zap.Error(err))
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(r.restart), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if ctx.Err() == nil {
			r.log.Error("job abandoned", zap.String("job", job.Name), zap.Error(err))
		}
		return
	}
	if attempts > 1 {
		r.log.Info("job recovered", zap.String("job", job.Name), zap.Int("attempts", attempts))
	}
}

func (r *Runner) execute(ctx context.Context, job Job) (err error) {
	if job.Exclusive {
		select {
		case r.exclusive <- struct{}{}:
			defer func() { <-r.exclusive }()
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return backoff.Permanent(err)
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, p)
		}
		if r.observer != nil {
			r.observer(job.Name, time.Since(start), err)
		}
	}()
	return job.Run(ctx)
}
