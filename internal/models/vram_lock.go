package models

import "time"

// VramLock reserves a quantity of VRAM on a node for one job. Rows are never
// deleted; release flips Released so the ledger doubles as an audit trail.
type VramLock struct {
	ID           string `gorm:"primaryKey;size:36"`
	JobID        string `gorm:"size:32;not null;index"`
	NodeID       string `gorm:"size:64;not null;index"`
	ResourceType string `gorm:"size:16;default:vram"`
	VramLockedMb int    `gorm:"not null"`
	AcquiredAt   time.Time
	ExpiresAt    time.Time
	Released     bool `gorm:"default:false;index"`
	ReleasedAt   *time.Time
}
