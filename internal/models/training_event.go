package models

import (
	"time"

	"gorm.io/datatypes"
)

// Training event types. One canonical meaning each: "created" fires when a
// run is persisted, "started" when it leaves pending.
const (
	EventCreated    = "created"
	EventStarted    = "started"
	EventProgress   = "progress"
	EventCheckpoint = "checkpoint"
	EventMetric     = "metric"
	EventError      = "error"
	EventCompleted  = "completed"
	EventCancelled  = "cancelled"
)

// TrainingEvent is the append-only ledger of lifecycle events for a run.
type TrainingEvent struct {
	ID        uint           `gorm:"primaryKey;autoIncrement"`
	RunID     string         `gorm:"size:32;not null;index"`
	EventType string         `gorm:"size:16;not null;index"`
	Payload   datatypes.JSON `gorm:"type:json"`
	CreatedAt time.Time      `gorm:"index"`
}
