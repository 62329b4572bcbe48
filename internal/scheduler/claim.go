package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/vram"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLookahead bounds how many queued jobs past the head a claim will
// consider when the head does not fit on the requesting node. It keeps one
// oversized job from starving a small node without turning the claim into a
// full queue scan.
const DefaultLookahead = 10

// ClaimOpts tunes a single claim attempt.
type ClaimOpts struct {
	Lookahead int           // 0 means DefaultLookahead
	LockTTL   time.Duration // 0 means vram.DefaultLockTTL
}

// JobClaim is what a worker receives when it wins a job.
type JobClaim struct {
	JobID           string         `json:"job_id"`
	JobType         string         `json:"job_type"`
	Model           string         `json:"model"`
	Payload         datatypes.JSON `json:"payload"`
	EstimatedVramMb int            `json:"estimated_vram_mb"`
	Priority        int            `json:"priority"`
	NodeID          string         `json:"node_id"`
	LockToken       string         `json:"lock_token"`
}

// Claim atomically assigns the best-fitting queued job to the node. The
// queued-status check, VRAM fit check, lock insertion, and transition to
// running happen in one transaction using SELECT ... FOR UPDATE SKIP LOCKED,
// so concurrent claims from multiple worker processes never double-assign a
// job or jointly over-allocate a node.
//
// Returns (nil, nil) when the queue is empty or nothing fits — "no work" is
// not an error, and callers poll with their own backoff.
//
// Note: SQLite (tests) ignores SKIP LOCKED. Correctness is preserved via
// transaction serialization; just lower concurrency.
func Claim(db *gorm.DB, nodeID string, opts ClaimOpts) (*JobClaim, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("scheduler: nodeID is required")
	}
	lookahead := opts.Lookahead
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = vram.DefaultLockTTL
	}

	var node models.Node
	if err := db.First(&node, "id = ?", nodeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduler: node %s: %w", nodeID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scheduler: check node %s: %w", nodeID, apperr.Classify(err))
	}
	if !node.Enabled {
		return nil, fmt.Errorf("scheduler: node %s is disabled: %w", nodeID, apperr.ErrUnauthorized)
	}

	var claim *JobClaim

	err := db.Transaction(func(tx *gorm.DB) error {
		// Lock the node's latest snapshot row so two concurrent claims on
		// this node serialize their fit checks.
		var snap models.GPUSnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("node_id = ?", nodeID).
			Order("created_at DESC, id DESC").
			First(&snap).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("scheduler: no telemetry snapshot for node %s: %w", nodeID, apperr.ErrNotFound)
			}
			return fmt.Errorf("scheduler: lock snapshot for %s: %w", nodeID, err)
		}

		var locked int64
		if err := tx.Model(&models.VramLock{}).
			Where("node_id = ? AND released = ?", nodeID, false).
			Select("COALESCE(SUM(vram_locked_mb), 0)").
			Scan(&locked).Error; err != nil {
			return fmt.Errorf("scheduler: sum locks on %s: %w", nodeID, err)
		}
		avail := snap.FreeVramMb - snap.ReservedVramMb - int(locked)

		// Bounded lookahead past the head so one oversized job cannot starve
		// a small node.
		var candidates []models.Job
		err = tx.Where("status = ?", models.JobQueued).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Order("priority ASC, created_at ASC").
			Limit(lookahead).
			Find(&candidates).Error
		if err != nil {
			return fmt.Errorf("scheduler: find queued jobs: %w", err)
		}

		for i := range candidates {
			job := &candidates[i]
			if job.EstimatedVramMb > avail {
				continue
			}

			// Guarded update: only wins if the job is still queued.
			now := time.Now()
			res := tx.Model(&models.Job{}).
				Where("id = ? AND status = ?", job.ID, models.JobQueued).
				Updates(map[string]interface{}{
					"status":     models.JobRunning,
					"node_id":    nodeID,
					"started_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("scheduler: claim job %s: %w", job.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue // another worker won this row
			}

			lock := models.VramLock{
				ID:           uuid.NewString(),
				JobID:        job.ID,
				NodeID:       nodeID,
				ResourceType: "vram",
				VramLockedMb: job.EstimatedVramMb,
				AcquiredAt:   now,
				ExpiresAt:    now.Add(lockTTL),
			}
			if err := tx.Create(&lock).Error; err != nil {
				return fmt.Errorf("scheduler: insert lock for job %s: %w", job.ID, err)
			}

			claim = &JobClaim{
				JobID:           job.ID,
				JobType:         job.JobType,
				Model:           job.Model,
				Payload:         job.Payload,
				EstimatedVramMb: job.EstimatedVramMb,
				Priority:        job.Priority,
				NodeID:          nodeID,
				LockToken:       lock.ID,
			}
			return nil
		}

		return nil // nothing fits: no work, not an error
	})
	if err != nil {
		return nil, apperr.Classify(err)
	}
	return claim, nil
}
