// Package vram tracks per-node VRAM capacity and reservation locks. It is
// the authority for whether a job fits on a node.
package vram

import (
	"errors"
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLockTTL is how long a reservation stays valid without release.
const DefaultLockTTL = 30 * time.Minute

// AcquireResult describes a successful reservation.
type AcquireResult struct {
	LockID      string
	RemainingMb int
	CanProceed  bool
}

// latestSnapshot returns the newest GPU snapshot for a node.
func latestSnapshot(db *gorm.DB, nodeID string) (*models.GPUSnapshot, error) {
	var snap models.GPUSnapshot
	err := db.Where("node_id = ?", nodeID).
		Order("created_at DESC, id DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("vram: no snapshot for node %s: %w", nodeID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("vram: latest snapshot for %s: %w", nodeID, err)
	}
	return &snap, nil
}

// AvailableVram returns the latest snapshot's free VRAM minus its reserved
// VRAM for the node, before accounting for reservation locks.
func AvailableVram(db *gorm.DB, nodeID string) (int, error) {
	snap, err := latestSnapshot(db, nodeID)
	if err != nil {
		return 0, err
	}
	return snap.FreeVramMb - snap.ReservedVramMb, nil
}

// activeLockedMb sums VramLockedMb over non-released locks on a node.
func activeLockedMb(db *gorm.DB, nodeID string) (int, error) {
	var locked int64
	err := db.Model(&models.VramLock{}).
		Where("node_id = ? AND released = ?", nodeID, false).
		Select("COALESCE(SUM(vram_locked_mb), 0)").
		Scan(&locked).Error
	if err != nil {
		return 0, fmt.Errorf("vram: sum active locks on %s: %w", nodeID, err)
	}
	return int(locked), nil
}

// CanAllocate reports whether requiredMb fits on the node after subtracting
// all active reservation locks from the available VRAM.
func CanAllocate(db *gorm.DB, nodeID string, requiredMb int) (bool, error) {
	avail, err := AvailableVram(db, nodeID)
	if err != nil {
		return false, err
	}
	locked, err := activeLockedMb(db, nodeID)
	if err != nil {
		return false, err
	}
	return avail-locked >= requiredMb, nil
}

// AcquireLock reserves vramMb on the node for the job. The fit check and the
// lock insertion run in one transaction with the node's latest snapshot row
// locked FOR UPDATE, so two concurrent acquisitions on the same node cannot
// jointly over-allocate.
//
// Note: SQLite (tests) ignores FOR UPDATE; correctness there is preserved by
// transaction serialization, just with lower concurrency.
func AcquireLock(db *gorm.DB, jobID, nodeID string, vramMb int, ttl time.Duration) (*AcquireResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("vram: jobID is required")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("vram: nodeID is required")
	}
	if vramMb <= 0 {
		return nil, fmt.Errorf("vram: vramMb must be positive, got %d", vramMb)
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}

	var res AcquireResult

	err := db.Transaction(func(tx *gorm.DB) error {
		var snap models.GPUSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("node_id = ?", nodeID).
			Order("created_at DESC, id DESC").
			First(&snap).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("vram: no snapshot for node %s: %w", nodeID, apperr.ErrNotFound)
			}
			return fmt.Errorf("vram: lock snapshot for %s: %w", nodeID, err)
		}

		locked, err := activeLockedMb(tx, nodeID)
		if err != nil {
			return err
		}

		avail := snap.FreeVramMb - snap.ReservedVramMb - locked
		if avail < vramMb {
			return fmt.Errorf("vram: node %s has %d MB available, job %s needs %d: %w",
				nodeID, avail, jobID, vramMb, apperr.ErrInsufficientResource)
		}

		now := time.Now()
		lock := models.VramLock{
			ID:           uuid.NewString(),
			JobID:        jobID,
			NodeID:       nodeID,
			ResourceType: "vram",
			VramLockedMb: vramMb,
			AcquiredAt:   now,
			ExpiresAt:    now.Add(ttl),
		}
		if err := tx.Create(&lock).Error; err != nil {
			return fmt.Errorf("vram: insert lock for job %s: %w", jobID, err)
		}

		res = AcquireResult{
			LockID:      lock.ID,
			RemainingMb: avail - vramMb,
			CanProceed:  true,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ReleaseLock marks a lock released and stamps ReleasedAt. Releasing an
// already-released lock is a no-op, not an error.
func ReleaseLock(db *gorm.DB, lockID string) error {
	if lockID == "" {
		return fmt.Errorf("vram: lockID is required")
	}
	var lock models.VramLock
	if err := db.First(&lock, "id = ?", lockID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("vram: lock %s: %w", lockID, apperr.ErrNotFound)
		}
		return fmt.Errorf("vram: get lock %s: %w", lockID, err)
	}
	if lock.Released {
		return nil
	}
	now := time.Now()
	err := db.Model(&models.VramLock{}).
		Where("id = ? AND released = ?", lockID, false).
		Updates(map[string]interface{}{
			"released":    true,
			"released_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("vram: release lock %s: %w", lockID, err)
	}
	return nil
}

// ReleaseJobLocks releases all active locks held by a job. Used when a job
// completes, fails, or is cancelled.
func ReleaseJobLocks(db *gorm.DB, jobID string) error {
	now := time.Now()
	err := db.Model(&models.VramLock{}).
		Where("job_id = ? AND released = ?", jobID, false).
		Updates(map[string]interface{}{
			"released":    true,
			"released_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("vram: release locks for job %s: %w", jobID, err)
	}
	return nil
}
