// Package runner provides the batch job processor for the backlog package.
package runner

import (
	"log/slog"
	"time"

	"github.com/cadencecrm/backlog/pkg/core"
)

// Option configures a Runner.
type Option interface {
	ApplyRunner(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyRunner(c *Config) { f(c) }

// Config holds runner configuration.
type Config struct {
	// RunnerID identifies this runner instance in job claims.
	RunnerID string

	// HandlerTimeout bounds a single handler execution. Expiry is treated as
	// a retryable failure with error "timeout".
	HandlerTimeout time.Duration

	// BatchSize is the claim size used when RunOnce is called with n <= 0.
	BatchSize int

	Logger  *slog.Logger
	OnEvent func(core.Event)
}

// DefaultHandlerTimeout bounds one handler execution.
const DefaultHandlerTimeout = 5 * time.Minute

// DefaultBatchSize is the claim size used when none is given.
const DefaultBatchSize = 10

// WithRunnerID sets the claim token for this runner instance.
func WithRunnerID(id string) Option {
	return optionFunc(func(c *Config) {
		c.RunnerID = id
	})
}

// WithHandlerTimeout sets the per-job execution timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		if d > 0 {
			c.HandlerTimeout = d
		}
	})
}

// WithBatchSize sets the default claim size.
func WithBatchSize(n int) Option {
	return optionFunc(func(c *Config) {
		if n > 0 {
			c.BatchSize = n
		}
	})
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithEvents registers a callback invoked for every runner event. The
// callback runs on the processing goroutine and must not block.
func WithEvents(fn func(core.Event)) Option {
	return optionFunc(func(c *Config) {
		c.OnEvent = fn
	})
}
