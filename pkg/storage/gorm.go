// Package storage provides the GORM-backed job store for the backlog package.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cadencecrm/backlog/pkg/core"
	"github.com/cadencecrm/backlog/pkg/security"
)

// GormStore implements core.Store using GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying gorm handle for callers that need to share the
// connection (migrations, usage reporting queries).
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.UsageRecord{})
}

// Enqueue inserts a job. The insert is the only side effect.
func (s *GormStore) Enqueue(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = core.DefaultMaxAttempts
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// ClaimBatch atomically claims up to limit queued jobs for claimerID.
//
// The claim is a conditional update guarded on status: rows that a concurrent
// claimer flipped first no longer match the guard, so they simply fall out of
// this claimer's result set. No read-then-write window exists.
func (s *GormStore) ClaimBatch(ctx context.Context, claimerID string, limit int) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&core.Job{}).
			Where("status = ?", core.StatusQueued).
			Order("created_at ASC, id ASC").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Model(&core.Job{}).
			Where("id IN ? AND status = ?", ids, core.StatusQueued).
			Updates(map[string]any{
				"status":     core.StatusInProgress,
				"claimed_by": claimerID,
			}).Error; err != nil {
			return err
		}

		return tx.
			Where("id IN ? AND claimed_by = ? AND status = ?", ids, claimerID, core.StatusInProgress).
			Order("created_at ASC, id ASC").
			Find(&claimed).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkSucceeded transitions a job to succeeded and releases the claim.
func (s *GormStore) MarkSucceeded(ctx context.Context, jobID string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusInProgress).
		Updates(map[string]any{
			"status":     core.StatusSucceeded,
			"claimed_by": "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// MarkFailed records a failed attempt. Attempts always increments; the job
// returns to queued while retryable attempts remain, otherwise it is failed.
// Error messages are sanitized before storage.
func (s *GormStore) MarkFailed(ctx context.Context, jobID string, message string, retryable bool) error {
	sanitized := security.SanitizeErrorMessage(message)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrJobNotFound
			}
			return err
		}

		job.Attempts++
		updates := map[string]any{
			"attempts":   job.Attempts,
			"last_error": sanitized,
			"claimed_by": "",
		}
		if retryable && job.Attempts < job.MaxAttempts {
			updates["status"] = core.StatusQueued
		} else {
			updates["status"] = core.StatusFailed
		}

		return tx.Model(&core.Job{}).Where("id = ?", jobID).Updates(updates).Error
	})
}

// BatchStatus returns per-status counts for a batch.
func (s *GormStore) BatchStatus(ctx context.Context, batchID string) (core.BatchCounts, error) {
	type row struct {
		Status core.JobStatus
		N      int64
	}

	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("status, count(*) as n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return core.BatchCounts{}, err
	}

	var counts core.BatchCounts
	for _, r := range rows {
		switch r.Status {
		case core.StatusQueued:
			counts.Queued = r.N
		case core.StatusInProgress:
			counts.InProgress = r.N
		case core.StatusSucceeded:
			counts.Succeeded = r.N
		case core.StatusFailed:
			counts.Failed = r.N
		}
	}
	return counts, nil
}

// CancelBatch terminalizes queued jobs in the batch owned by ownerID.
// In-progress jobs are left to finish naturally.
func (s *GormStore) CancelBatch(ctx context.Context, batchID string, ownerID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("batch_id = ? AND owner_id = ? AND status = ?", batchID, ownerID, core.StatusQueued).
		Updates(map[string]any{
			"status":     core.StatusFailed,
			"last_error": "canceled",
		})
	return result.RowsAffected, result.Error
}

// GetJob fetches a single job by id.
func (s *GormStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, core.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// AppendUsage writes an immutable usage audit record.
func (s *GormStore) AppendUsage(ctx context.Context, rec *core.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}
