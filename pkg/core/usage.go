package core

import (
	"context"
	"time"
)

// UsageRecord is an immutable audit row written after every successful
// guarded call. Rows are append-only; nothing in this package updates or
// deletes them.
type UsageRecord struct {
	ID          string    `gorm:"primaryKey;size:36"`
	OwnerID     string    `gorm:"index;size:255;not null"`
	Model       string    `gorm:"size:255"`
	InputUnits  int       `gorm:"default:0"`
	OutputUnits int       `gorm:"default:0"`
	CostUSD     float64   `gorm:"default:0"`
	CreatedAt   time.Time `gorm:"index;autoCreateTime"`
}

// UsageWriter appends usage audit records. Implemented by the GORM store.
type UsageWriter interface {
	AppendUsage(ctx context.Context, rec *UsageRecord) error
}
