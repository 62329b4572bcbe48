package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job statuses. Transitions are validated in the scheduler package.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobCancelled = "cancelled"
)

// Job is a unit of GPU work waiting in, or claimed from, the queue.
type Job struct {
	ID              string         `gorm:"primaryKey;size:32"`
	JobType         string         `gorm:"size:32;not null;index"`
	Model           string         `gorm:"size:128"`
	Payload         datatypes.JSON `gorm:"type:json"`
	EstimatedVramMb int            `gorm:"not null"`
	Priority        int            `gorm:"default:50;index"`
	Status          string         `gorm:"size:16;default:queued;index"`
	NodeID          string         `gorm:"size:64;index"`
	CallerID        string         `gorm:"size:64"`
	CallerType      string         `gorm:"size:32"`
	Result          datatypes.JSON `gorm:"type:json"`
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}
