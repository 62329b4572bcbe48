// Package scheduler owns the GPU job queue: admission, the worker claim
// protocol, and job lifecycle transitions.
package scheduler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/vram"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DefaultPriority is assigned when an enqueue spec leaves priority unset.
// Lower values are served first.
const DefaultPriority = 50

// ValidTransitions maps each job status to its legal next statuses.
var ValidTransitions = map[string][]string{
	models.JobQueued:  {models.JobRunning, models.JobCancelled},
	models.JobRunning: {models.JobCompleted, models.JobFailed, models.JobCancelled},
}

// isValidTransition reports whether from → to is a legal job transition.
func isValidTransition(from, to string) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GenerateID creates a unique job ID in job-xxxxxx format (6-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("scheduler: generate ID: %w", err)
	}
	return "job-" + hex.EncodeToString(b), nil
}

// EnqueueOpts holds parameters for submitting a job.
type EnqueueOpts struct {
	JobType         string
	Model           string
	Payload         datatypes.JSON
	EstimatedVramMb int
	Priority        *int // nil means DefaultPriority
	CallerID        string
	CallerType      string
}

// Enqueue inserts a job in queued state and returns it. No admission check
// happens here; jobs wait until a worker claims them.
func Enqueue(db *gorm.DB, opts EnqueueOpts) (*models.Job, error) {
	if opts.JobType == "" {
		return nil, fmt.Errorf("scheduler: jobType is required")
	}
	if opts.EstimatedVramMb <= 0 {
		return nil, fmt.Errorf("scheduler: estimatedVramMb must be positive, got %d", opts.EstimatedVramMb)
	}

	priority := DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}

	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	job := models.Job{
		ID:              id,
		JobType:         opts.JobType,
		Model:           opts.Model,
		Payload:         opts.Payload,
		EstimatedVramMb: opts.EstimatedVramMb,
		Priority:        priority,
		Status:          models.JobQueued,
		CallerID:        opts.CallerID,
		CallerType:      opts.CallerType,
		CreatedAt:       time.Now(),
	}
	if err := db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("scheduler: enqueue: %w", apperr.Classify(err))
	}
	return &job, nil
}

// Get retrieves a job by ID.
func Get(db *gorm.DB, jobID string) (*models.Job, error) {
	var job models.Job
	if err := db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("scheduler: job %s: %w", jobID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("scheduler: get job %s: %w", jobID, apperr.Classify(err))
	}
	return &job, nil
}

// Release transitions a running job to completed, stores the worker-supplied
// result, and frees its VRAM reservation. Releasing an already-completed job
// is a no-op.
func Release(db *gorm.DB, jobID string, result datatypes.JSON, lockToken string) error {
	return finishJob(db, jobID, models.JobCompleted, result, lockToken)
}

// Fail transitions a running job to failed, recording the worker's error
// message as the result, and frees its VRAM reservation.
func Fail(db *gorm.DB, jobID, errMsg, lockToken string) error {
	result, err := json.Marshal(map[string]string{"error": errMsg})
	if err != nil {
		return fmt.Errorf("scheduler: encode failure result: %w", err)
	}
	return finishJob(db, jobID, models.JobFailed, datatypes.JSON(result), lockToken)
}

// finishJob is the shared terminal path for Release and Fail.
func finishJob(db *gorm.DB, jobID, terminal string, result datatypes.JSON, lockToken string) error {
	job, err := Get(db, jobID)
	if err != nil {
		return err
	}
	if job.Status == terminal {
		return nil // idempotent per job
	}
	if !isValidTransition(job.Status, terminal) {
		return fmt.Errorf("scheduler: job %s is %s, cannot transition to %s: %w",
			jobID, job.Status, terminal, apperr.ErrInvalidState)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, models.JobRunning).
			Updates(map[string]interface{}{
				"status":       terminal,
				"result":       result,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("scheduler: finish job %s: %w", jobID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost a race; re-read to distinguish duplicate from illegal.
			var current models.Job
			if err := tx.First(&current, "id = ?", jobID).Error; err != nil {
				return fmt.Errorf("scheduler: recheck job %s: %w", jobID, err)
			}
			if current.Status == terminal {
				return nil
			}
			return fmt.Errorf("scheduler: job %s is %s, cannot transition to %s: %w",
				jobID, current.Status, terminal, apperr.ErrInvalidState)
		}

		if lockToken != "" {
			if err := vram.ReleaseLock(tx, lockToken); err != nil && !errors.Is(err, apperr.ErrNotFound) {
				return err
			}
		}
		return vram.ReleaseJobLocks(tx, jobID)
	})
	if err != nil {
		return apperr.Classify(err)
	}
	return nil
}

// Cancel transitions a queued or running job to cancelled and releases any
// held locks. Cancellation is a cooperative signal: the worker process, if
// any, is not terminated here.
func Cancel(db *gorm.DB, jobID string) error {
	job, err := Get(db, jobID)
	if err != nil {
		return err
	}
	if !isValidTransition(job.Status, models.JobCancelled) {
		return fmt.Errorf("scheduler: job %s is %s, cannot cancel: %w",
			jobID, job.Status, apperr.ErrInvalidState)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status IN ?", jobID, []string{models.JobQueued, models.JobRunning}).
			Updates(map[string]interface{}{
				"status":       models.JobCancelled,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("scheduler: cancel job %s: %w", jobID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("scheduler: job %s already terminal, cannot cancel: %w",
				jobID, apperr.ErrInvalidState)
		}
		return vram.ReleaseJobLocks(tx, jobID)
	})
	if err != nil {
		return apperr.Classify(err)
	}
	return nil
}
