package storage

import (
	"time"

	"gorm.io/gorm"
)

// ErrorScore is recorded for addresses whose scoring failed
const ErrorScore = "ERROR"

// BatchResult is one scored address from a batch run
type BatchResult struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Address   string `gorm:"uniqueIndex;size:64;not null"`
	Score     string `gorm:"size:16;not null"`
	CreatedTS int64  `gorm:"not null;index"`
	UpdatedTS int64  `gorm:"not null"`
}

func (BatchResult) TableName() string {
	return "batch_results"
}

// Failed reports whether the address was recorded as a scoring failure
func (r BatchResult) Failed() bool {
	return r.Score == ErrorScore
}

// BeforeCreate hook for timestamps
func (r *BatchResult) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if r.CreatedTS == 0 {
		r.CreatedTS = now
	}
	if r.UpdatedTS == 0 {
		r.UpdatedTS = now
	}
	return nil
}
