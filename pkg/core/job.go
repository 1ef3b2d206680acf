// Package core provides the domain models and interfaces for the backlog package.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusInProgress JobStatus = "in_progress"
	StatusSucceeded  JobStatus = "succeeded"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DefaultMaxAttempts is applied when a job is enqueued without an explicit limit.
const DefaultMaxAttempts = 3

// Job represents a durable unit of asynchronous work.
//
// Status transitions are monotone: queued -> in_progress -> {succeeded,
// queued (retry), failed}. Attempts counts completed execution attempts and
// only increases. Jobs are never deleted by this package; cleanup of terminal
// rows is a housekeeping concern outside the core.
type Job struct {
	ID          string    `gorm:"primaryKey;size:36"`
	OwnerID     string    `gorm:"index;size:255;not null"`
	Kind        string    `gorm:"index;size:255;not null"`
	Payload     []byte    `gorm:"type:bytes"`
	Status      JobStatus `gorm:"index:idx_jobs_claim,priority:1;size:20;default:'queued'"`
	Attempts    int       `gorm:"default:0"`
	MaxAttempts int       `gorm:"default:3"`
	BatchID     string    `gorm:"index;size:255"`
	LastError   string    `gorm:"type:text"`

	// ClaimedBy records which runner instance holds the job while it is
	// in_progress. It backs the atomic claim: a conditional update stamps it
	// together with the status flip, so two claimers can never observe the
	// same row as theirs.
	ClaimedBy string `gorm:"size:36"`

	CreatedAt time.Time `gorm:"index:idx_jobs_claim,priority:2;autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// BatchCounts aggregates job statuses for one batch.
type BatchCounts struct {
	Queued     int64 `json:"queued"`
	InProgress int64 `json:"in_progress"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

// Total returns the number of jobs in the batch regardless of state.
func (c BatchCounts) Total() int64 {
	return c.Queued + c.InProgress + c.Succeeded + c.Failed
}
