// Package queue provides the producer API for enqueueing and managing jobs.
package queue

import (
	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/security"
)

// Options holds configuration for one enqueue.
type Options struct {
	BatchID     string
	MaxAttempts int
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		MaxAttempts: core.DefaultMaxAttempts,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// WithBatch groups the job under a batch id for status queries and
// cancellation.
func WithBatch(batchID string) Option {
	return optionFunc(func(o *Options) {
		o.BatchID = batchID
	})
}

// WithMaxAttempts sets the job's attempt budget.
// Values are clamped to [1, MaxAttempts] (100).
func WithMaxAttempts(n int) Option {
	return optionFunc(func(o *Options) {
		o.MaxAttempts = security.ClampAttempts(n)
	})
}
