package vram

import (
	"errors"
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/gorm"
)

// SnapshotOpts holds one telemetry reading from the external collector.
type SnapshotOpts struct {
	NodeID         string
	TotalVramMb    int
	UsedVramMb     int
	ReservedVramMb int
}

// RecordSnapshot appends a GPU telemetry reading for a node. The scheduler
// never measures hardware itself; an external collector calls this. Free
// VRAM is derived from total minus used.
func RecordSnapshot(db *gorm.DB, opts SnapshotOpts) (*models.GPUSnapshot, error) {
	if opts.NodeID == "" {
		return nil, fmt.Errorf("vram: nodeID is required")
	}
	if opts.TotalVramMb <= 0 {
		return nil, fmt.Errorf("vram: totalVramMb must be positive, got %d", opts.TotalVramMb)
	}
	if opts.UsedVramMb < 0 || opts.UsedVramMb > opts.TotalVramMb {
		return nil, fmt.Errorf("vram: usedVramMb %d out of range [0, %d]", opts.UsedVramMb, opts.TotalVramMb)
	}

	var node models.Node
	if err := db.First(&node, "id = ?", opts.NodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("vram: node %s: %w", opts.NodeID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vram: check node %s: %w", opts.NodeID, err)
	}

	snap := models.GPUSnapshot{
		NodeID:         opts.NodeID,
		TotalVramMb:    opts.TotalVramMb,
		UsedVramMb:     opts.UsedVramMb,
		FreeVramMb:     opts.TotalVramMb - opts.UsedVramMb,
		ReservedVramMb: opts.ReservedVramMb,
		CreatedAt:      time.Now(),
	}
	if err := db.Create(&snap).Error; err != nil {
		return nil, fmt.Errorf("vram: record snapshot for %s: %w", opts.NodeID, err)
	}
	return &snap, nil
}
