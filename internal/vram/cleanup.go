package vram

import (
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/gorm"
)

// staleLockRow joins an active lock to its job's status (empty when the job
// row is gone).
type staleLockRow struct {
	ID         string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	JobStatus  string
}

// CleanupStaleLocks releases active locks whose job no longer exists, whose
// job is not running, or whose own expiry stamp has passed (falling back to
// acquired_at + maxAge for locks without one). It returns the number of
// locks reclaimed. This sweep is the recovery path for crashed workers: a
// worker that dies mid-job leaves its lock behind until the lock's TTL runs
// out or its status stops being "running".
func CleanupStaleLocks(db *gorm.DB, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = DefaultLockTTL
	}

	var rows []staleLockRow
	err := db.Model(&models.VramLock{}).
		Select("vram_locks.id, vram_locks.acquired_at, vram_locks.expires_at, COALESCE(jobs.status, '') AS job_status").
		Joins("LEFT JOIN jobs ON jobs.id = vram_locks.job_id").
		Where("vram_locks.released = ?", false).
		Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("vram: scan active locks: %w", err)
	}

	now := time.Now()
	var stale []string
	for _, r := range rows {
		switch {
		case r.JobStatus == "": // job row gone
			stale = append(stale, r.ID)
		case r.JobStatus != models.JobRunning:
			stale = append(stale, r.ID)
		case !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt):
			stale = append(stale, r.ID)
		case r.ExpiresAt.IsZero() && now.Sub(r.AcquiredAt) > maxAge:
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	result := db.Model(&models.VramLock{}).
		Where("id IN ? AND released = ?", stale, false).
		Updates(map[string]interface{}{
			"released":    true,
			"released_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("vram: release %d stale locks: %w", len(stale), result.Error)
	}
	return int(result.RowsAffected), nil
}
