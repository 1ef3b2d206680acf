package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/dispatch"
)

// errTimeout marks a handler that exceeded its execution budget.
var errTimeout = errors.New("timeout")

// Summary aggregates the outcome of one RunOnce pass.
type Summary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Runner orchestrates the claim -> dispatch -> execute -> terminalize loop.
//
// Jobs within a claimed batch are processed strictly sequentially so one
// owner's jobs cannot burn through a shared rate-limited quota in parallel.
// Cross-process safety rests entirely on the store's atomic claim.
type Runner struct {
	store    core.Store
	registry *dispatch.Registry
	config   Config
	logger   *slog.Logger
}

// New creates a runner over the given store and handler registry.
func New(store core.Store, registry *dispatch.Registry, opts ...Option) *Runner {
	config := Config{
		RunnerID:       uuid.New().String(),
		HandlerTimeout: DefaultHandlerTimeout,
		BatchSize:      DefaultBatchSize,
		Logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt.ApplyRunner(&config)
	}

	return &Runner{
		store:    store,
		registry: registry,
		config:   config,
		logger:   config.Logger,
	}
}

// RunnerID returns the claim token used by this instance.
func (r *Runner) RunnerID() string {
	return r.config.RunnerID
}

// RunOnce claims up to batchSize queued jobs and processes them in claim
// order. It is the single entry point for the external trigger and is safe
// to invoke from overlapping schedules. A batchSize <= 0 uses the default.
//
// Store unavailability during the claim is fatal for the pass; per-job
// failures are absorbed into the summary.
func (r *Runner) RunOnce(ctx context.Context, batchSize int) (Summary, error) {
	if batchSize <= 0 {
		batchSize = r.config.BatchSize
	}

	jobs, err := r.store.ClaimBatch(ctx, r.config.RunnerID, batchSize)
	if err != nil {
		return Summary{}, fmt.Errorf("backlog: claim batch: %w", err)
	}

	var sum Summary
	for _, job := range jobs {
		sum.Processed++
		r.processJob(ctx, job, &sum)
	}
	return sum, nil
}

func (r *Runner) processJob(ctx context.Context, job *core.Job, sum *Summary) {
	start := time.Now()
	r.emit(&core.JobStarted{Job: job, Timestamp: start})

	err := r.execute(ctx, job)
	duration := time.Since(start)

	if err == nil {
		if markErr := r.store.MarkSucceeded(ctx, job.ID); markErr != nil {
			r.logger.Error("failed to mark job succeeded",
				"job_id", job.ID, "kind", job.Kind, "error", markErr)
			sum.Failed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", job.ID, markErr))
			return
		}
		sum.Succeeded++
		r.emit(&core.JobSucceeded{Job: job, Duration: duration, Timestamp: time.Now()})
		r.logger.Info("job processed",
			"job_id", job.ID, "kind", job.Kind, "owner_id", job.OwnerID,
			"duration", duration, "outcome", "succeeded")
		return
	}

	retryable := core.Retryable(err)
	if markErr := r.store.MarkFailed(ctx, job.ID, err.Error(), retryable); markErr != nil {
		r.logger.Error("failed to mark job failed",
			"job_id", job.ID, "kind", job.Kind, "error", markErr)
	}

	sum.Failed++
	sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", job.ID, err))

	attempt := job.Attempts + 1
	if retryable && attempt < job.MaxAttempts {
		r.emit(&core.JobRetrying{Job: job, Attempt: attempt, Error: err, Timestamp: time.Now()})
		r.logger.Warn("job processed",
			"job_id", job.ID, "kind", job.Kind, "owner_id", job.OwnerID,
			"duration", duration, "outcome", "retrying", "attempt", attempt, "error", err)
	} else {
		r.emit(&core.JobFailed{Job: job, Error: err, Timestamp: time.Now()})
		r.logger.Error("job processed",
			"job_id", job.ID, "kind", job.Kind, "owner_id", job.OwnerID,
			"duration", duration, "outcome", "failed", "attempt", attempt, "error", err)
	}
}

// execute dispatches the job under the handler timeout. A handler that
// overruns is reported as a retryable "timeout"; its goroutine is left to
// unwind when it observes the cancelled context.
func (r *Runner) execute(ctx context.Context, job *core.Job) error {
	ctx, cancel := context.WithTimeout(ctx, r.config.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.dispatchSafe(ctx, job)
	}()

	select {
	case err := <-done:
		// A handler that surfaces its context error at the deadline is the
		// same timeout, just reported from the other side of the race.
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return errTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errTimeout
		}
		return ctx.Err()
	}
}

func (r *Runner) dispatchSafe(ctx context.Context, job *core.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.registry.Dispatch(ctx, job)
}

func (r *Runner) emit(ev core.Event) {
	if r.config.OnEvent != nil {
		r.config.OnEvent(ev)
	}
}
