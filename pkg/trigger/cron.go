// Package trigger exposes the entry points that drive the runner: a cron
// schedule for periodic passes and an HTTP surface for external schedulers
// and batch monitoring.
package trigger

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cadencecrm/backlog/pkg/runner"
)

// DefaultSchedule runs a pass every five minutes.
const DefaultSchedule = "*/5 * * * *"

// Cron invokes runner.RunOnce on a fixed schedule. Overlapping invocations
// are safe: the store's atomic claim is the only serialization point, so two
// concurrent passes simply split the queue between them. No application-level
// lock is taken.
type Cron struct {
	runner    *runner.Runner
	cron      *cron.Cron
	schedule  string
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// CronOption configures a Cron trigger.
type CronOption func(*Cron)

// WithSchedule sets the cron expression (default every 5 minutes).
func WithSchedule(expr string) CronOption {
	return func(c *Cron) {
		if expr != "" {
			c.schedule = expr
		}
	}
}

// WithBatchSize sets the claim size per pass.
func WithBatchSize(n int) CronOption {
	return func(c *Cron) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithPassTimeout bounds one whole pass.
func WithPassTimeout(d time.Duration) CronOption {
	return func(c *Cron) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCronLogger sets the structured logger.
func WithCronLogger(logger *slog.Logger) CronOption {
	return func(c *Cron) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCron creates a cron trigger for the runner.
func NewCron(r *runner.Runner, opts ...CronOption) *Cron {
	c := &Cron{
		runner:    r,
		schedule:  DefaultSchedule,
		batchSize: runner.DefaultBatchSize,
		timeout:   30 * time.Minute,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start schedules passes and blocks until the context is cancelled.
func (c *Cron) Start(ctx context.Context) error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.schedule, func() {
		passCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		sum, err := c.runner.RunOnce(passCtx, c.batchSize)
		if err != nil {
			c.logger.Error("scheduled pass failed", "error", err)
			return
		}
		if sum.Processed > 0 {
			c.logger.Info("scheduled pass complete",
				"processed", sum.Processed,
				"succeeded", sum.Succeeded,
				"failed", sum.Failed)
		}
	})
	if err != nil {
		return err
	}

	c.cron.Start()
	<-ctx.Done()

	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
