package models

import "time"

// Node is a GPU-bearing host in the fleet. The registry is static from the
// scheduler's point of view; rows are seeded from configuration.
type Node struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:128"`
	Enabled   bool   `gorm:"default:true"`
	CreatedAt time.Time
}

// GPUSnapshot is one telemetry reading of a node's VRAM. Rows are
// append-only; only the newest row per node is authoritative.
type GPUSnapshot struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	NodeID         string `gorm:"size:64;not null;index:idx_node_snapshot,priority:1"`
	TotalVramMb    int    `gorm:"not null"`
	UsedVramMb     int    `gorm:"not null"`
	FreeVramMb     int    `gorm:"not null"`
	ReservedVramMb int    `gorm:"default:0"`
	CreatedAt      time.Time `gorm:"index:idx_node_snapshot,priority:2"`
}
