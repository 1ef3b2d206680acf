// Package backlog provides durable background job processing and
// external-call resilience for a multi-tenant CRM.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage, registry, and queue
//	db, _ := gorm.Open(sqlite.Open("backlog.db"), &gorm.Config{})
//	store := backlog.NewGormStore(db)
//	store.Migrate(context.Background())
//
//	registry := backlog.NewRegistry()
//	registry.Register("contacts.extract", func(ctx context.Context, job *backlog.Job) error {
//	    return extractContacts(ctx, job.OwnerID, job.Payload)
//	})
//
//	q := backlog.NewQueue(store, registry)
//	q.Enqueue(ctx, ownerID, "contacts.extract", payload)
//
//	// Process a batch (invoked by an external scheduler)
//	r := backlog.NewRunner(store, registry)
//	summary, _ := r.RunOnce(ctx, 10)
//
// Handlers that call quota-limited or paid external APIs should go through
// the ratelimit.Limiter and guardrail.Guard rather than calling out directly.
package backlog

import (
	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/dispatch"
	"github.com/cadencecrm/backlog/pkg/guardrail"
	"github.com/cadencecrm/backlog/pkg/queue"
	"github.com/cadencecrm/backlog/pkg/ratelimit"
	"github.com/cadencecrm/backlog/pkg/runner"
	"github.com/cadencecrm/backlog/pkg/storage"
)

// Type aliases re-exporting the public API.
type (
	// Job represents a durable unit of asynchronous work.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// BatchCounts aggregates job statuses for one batch.
	BatchCounts = core.BatchCounts

	// UsageRecord is the immutable audit row written after guarded calls.
	UsageRecord = core.UsageRecord

	// Store defines the persistence layer for jobs.
	Store = core.Store

	// Event is the interface for all runner events.
	Event = core.Event

	// JobStarted is emitted when a job begins executing.
	JobStarted = core.JobStarted

	// JobSucceeded is emitted when a job completes successfully.
	JobSucceeded = core.JobSucceeded

	// JobRetrying is emitted when a failed job returns to the queue.
	JobRetrying = core.JobRetrying

	// JobFailed is emitted when a job fails permanently.
	JobFailed = core.JobFailed

	// NoRetryError marks a handler failure as permanent.
	NoRetryError = core.NoRetryError

	// Handler executes the business logic for one job kind.
	Handler = dispatch.Handler

	// Registry maps job kinds to handlers.
	Registry = dispatch.Registry

	// Queue is the producer-facing enqueue/status/cancel surface.
	Queue = queue.Queue

	// Runner orchestrates the claim -> dispatch -> execute loop.
	Runner = runner.Runner

	// Summary aggregates the outcome of one runner pass.
	Summary = runner.Summary

	// GormStore is the GORM-backed store implementation.
	GormStore = storage.GormStore

	// Limiter is the per-(owner, service) token bucket + circuit breaker.
	Limiter = ratelimit.Limiter

	// Guard wraps paid calls with window enforcement and usage auditing.
	Guard = guardrail.Guard
)

// Job status values.
const (
	StatusQueued     = core.StatusQueued
	StatusInProgress = core.StatusInProgress
	StatusSucceeded  = core.StatusSucceeded
	StatusFailed     = core.StatusFailed
)

// NoRetry wraps an error to indicate the job should not be retried.
var NoRetry = core.NoRetry

// WithBatch groups an enqueued job under a batch id.
var WithBatch = queue.WithBatch

// WithMaxAttempts sets an enqueued job's attempt budget.
var WithMaxAttempts = queue.WithMaxAttempts

// NewGormStore creates a GORM-backed store.
var NewGormStore = storage.NewGormStore

// NewRegistry creates an empty handler registry.
var NewRegistry = dispatch.NewRegistry

// NewQueue creates a producer queue over a store and registry.
var NewQueue = queue.New

// NewRunner creates a runner over a store and registry.
var NewRunner = runner.New

// NewLimiter creates a rate limiter with the given default tuning.
var NewLimiter = ratelimit.New

// NewGuard creates a usage guard over a ledger and usage writer.
var NewGuard = guardrail.New

// NewMemoryLedger creates the default process-local guardrail ledger.
var NewMemoryLedger = guardrail.NewMemoryLedger
