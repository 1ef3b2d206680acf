package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/dispatch"
	"github.com/cadencecrm/backlog/pkg/security"
)

// Queue is the producer-facing surface: validated enqueue plus batch status
// and cancellation passthroughs. Execution belongs to the runner.
type Queue struct {
	store    core.Store
	registry *dispatch.Registry
}

// New creates a queue over the given store and handler registry.
func New(store core.Store, registry *dispatch.Registry) *Queue {
	return &Queue{store: store, registry: registry}
}

// Enqueue validates and inserts a job, returning its id. Kinds without a
// registered handler are rejected here rather than at dispatch time, so a
// typo'd producer fails fast instead of poisoning the queue.
func (q *Queue) Enqueue(ctx context.Context, ownerID, kind string, payload any, opts ...Option) (string, error) {
	if err := security.ValidateOwnerID(ownerID); err != nil {
		return "", err
	}
	if err := security.ValidateKindName(kind); err != nil {
		return "", err
	}
	if !q.registry.Has(kind) {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownKind, kind)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}
	if err := security.ValidateBatchID(options.BatchID); err != nil {
		return "", err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("backlog: failed to marshal payload: %w", err)
	}
	if len(payloadBytes) > security.MaxPayloadSize {
		return "", core.ErrPayloadTooLarge
	}

	job := &core.Job{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Kind:        kind,
		Payload:     payloadBytes,
		Status:      core.StatusQueued,
		MaxAttempts: options.MaxAttempts,
		BatchID:     options.BatchID,
	}

	if err := q.store.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("backlog: failed to enqueue: %w", err)
	}
	return job.ID, nil
}

// BatchStatus returns per-status counts for a batch.
func (q *Queue) BatchStatus(ctx context.Context, batchID string) (core.BatchCounts, error) {
	return q.store.BatchStatus(ctx, batchID)
}

// CancelBatch cancels the owner's still-queued jobs in a batch and returns
// how many were cancelled. In-progress jobs finish naturally.
func (q *Queue) CancelBatch(ctx context.Context, batchID, ownerID string) (int64, error) {
	return q.store.CancelBatch(ctx, batchID, ownerID)
}
