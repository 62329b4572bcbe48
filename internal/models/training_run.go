package models

import (
	"time"

	"gorm.io/datatypes"
)

// Training run statuses. Transitions are validated in the training package.
const (
	RunPending   = "pending"
	RunPreparing = "preparing"
	RunTraining  = "training"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run types.
const (
	RunTypeLora       = "lora"
	RunTypeQlora      = "qlora"
	RunTypeSDXL       = "sdxl"
	RunTypeDreambooth = "dreambooth"
)

// TrainingRun is one model-training job's full lifecycle record.
type TrainingRun struct {
	ID              string         `gorm:"primaryKey;size:32"`
	RunType         string         `gorm:"size:16;not null;index"`
	BaseModel       string         `gorm:"size:128"`
	OutputName      string         `gorm:"size:128"`
	DatasetPath     string         `gorm:"size:255"`
	DatasetSize     int64          `gorm:"default:0"`
	Config          datatypes.JSON `gorm:"type:json"`
	Status          string         `gorm:"size:16;default:pending;index"`
	CurrentEpoch    int            `gorm:"default:0"`
	TotalEpochs     int            `gorm:"default:0"`
	CurrentStep     int            `gorm:"default:0"`
	TotalSteps      int            `gorm:"default:0"`
	ProgressPercent float64        `gorm:"default:0"`
	Metrics         datatypes.JSON `gorm:"type:json"`
	OutputPath      string         `gorm:"size:255"`
	OutputSize      int64          `gorm:"default:0"`
	Error           string         `gorm:"size:255"`
	ErrorDetails    string         `gorm:"type:text"`
	UserID          string         `gorm:"size:64;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time

	Checkpoints []TrainingCheckpoint `gorm:"foreignKey:RunID"`
}

// TrainingCheckpoint is one durable intermediate artifact of a run.
// Rows are append-only in non-decreasing step order.
type TrainingCheckpoint struct {
	ID        uint     `gorm:"primaryKey;autoIncrement"`
	RunID     string   `gorm:"size:32;not null;index"`
	Path      string   `gorm:"size:255;not null"`
	Epoch     int      `gorm:"not null"`
	Step      int      `gorm:"not null"`
	Loss      *float64 `gorm:"type:decimal(12,6)"`
	CreatedAt time.Time
}
