package core

import (
	"context"
)

// Store defines the persistence layer for jobs.
//
// ClaimBatch is the only serialization point between concurrent runner
// instances: it must never hand the same job to two claimers. Everything
// else is a plain conditional update.
type Store interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Enqueue inserts a new job. It has no side effects besides the insert.
	Enqueue(ctx context.Context, job *Job) error

	// ClaimBatch atomically moves up to limit queued jobs to in_progress,
	// stamped with claimerID, ordered by creation time ascending. Attempts
	// are not touched by the claim.
	ClaimBatch(ctx context.Context, claimerID string, limit int) ([]*Job, error)

	// MarkSucceeded transitions a claimed job to succeeded.
	MarkSucceeded(ctx context.Context, jobID string) error

	// MarkFailed records a failed attempt. Attempts is incremented; if the
	// failure is retryable and attempts remain, the job returns to queued,
	// otherwise it becomes failed. The message is sanitized before storage.
	MarkFailed(ctx context.Context, jobID string, message string, retryable bool) error

	// BatchStatus returns per-status counts for one batch id.
	BatchStatus(ctx context.Context, batchID string) (BatchCounts, error)

	// CancelBatch terminalizes jobs in the batch that are still queued and
	// owned by ownerID. In-progress jobs finish naturally. Returns the number
	// of jobs cancelled.
	CancelBatch(ctx context.Context, batchID string, ownerID string) (int64, error)

	// GetJob fetches a single job by id.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	UsageWriter
}
