package training

import (
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunsByStatus returns runs in the given status, newest first.
func RunsByStatus(db *gorm.DB, status string) ([]models.TrainingRun, error) {
	var runs []models.TrainingRun
	if err := db.Where("status = ?", status).
		Order("created_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("training: runs by status %s: %w", status, apperr.Classify(err))
	}
	return runs, nil
}

// RunStatus is the lightweight progress view of a run.
type RunStatus struct {
	RunID           string  `json:"run_id"`
	Status          string  `json:"status"`
	CurrentEpoch    int     `json:"current_epoch"`
	TotalEpochs     int     `json:"total_epochs"`
	CurrentStep     int     `json:"current_step"`
	TotalSteps      int     `json:"total_steps"`
	ProgressPercent float64 `json:"progress_percent"`
	Error           string  `json:"error,omitempty"`
}

// GetRunStatus returns the run's progress summary.
func GetRunStatus(db *gorm.DB, runID string) (*RunStatus, error) {
	run, err := GetRun(db, runID)
	if err != nil {
		return nil, err
	}
	return &RunStatus{
		RunID:           run.ID,
		Status:          run.Status,
		CurrentEpoch:    run.CurrentEpoch,
		TotalEpochs:     run.TotalEpochs,
		CurrentStep:     run.CurrentStep,
		TotalSteps:      run.TotalSteps,
		ProgressPercent: run.ProgressPercent,
		Error:           run.Error,
	}, nil
}

// GetRunMetrics returns the run's free-form metric series.
func GetRunMetrics(db *gorm.DB, runID string) (datatypes.JSON, error) {
	run, err := GetRun(db, runID)
	if err != nil {
		return nil, err
	}
	return run.Metrics, nil
}

// ListFilters narrows and pages a run listing.
type ListFilters struct {
	Status  string
	UserID  string
	RunType string
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

// DefaultListLimit pages run listings when no limit is given.
const DefaultListLimit = 50

// ListRuns returns runs matching the filters, newest first, plus the total
// match count before paging.
func ListRuns(db *gorm.DB, filters ListFilters) ([]models.TrainingRun, int64, error) {
	q := db.Model(&models.TrainingRun{})
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.UserID != "" {
		q = q.Where("user_id = ?", filters.UserID)
	}
	if filters.RunType != "" {
		q = q.Where("run_type = ?", filters.RunType)
	}
	if filters.From != nil {
		q = q.Where("created_at >= ?", *filters.From)
	}
	if filters.To != nil {
		q = q.Where("created_at <= ?", *filters.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("training: count runs: %w", apperr.Classify(err))
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var runs []models.TrainingRun
	if err := q.Order("created_at DESC").
		Limit(limit).
		Offset(filters.Offset).
		Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("training: list runs: %w", apperr.Classify(err))
	}
	return runs, total, nil
}

// RunStats aggregates run health. Sections are computed independently;
// failures land in Degraded rather than aborting the report.
type RunStats struct {
	Counts          map[string]int64 `json:"counts"`
	AvgDurationSecs float64          `json:"avg_duration_secs"`
	Degraded        []string         `json:"degraded,omitempty"`
}

// GetStats returns run counts by status and the average wall-clock duration
// (completedAt − startedAt) over completed runs.
func GetStats(db *gorm.DB) (*RunStats, error) {
	st := &RunStats{Counts: make(map[string]int64)}

	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := db.Model(&models.TrainingRun{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		st.Degraded = append(st.Degraded, fmt.Sprintf("counts: %v", err))
	} else {
		for _, r := range rows {
			st.Counts[r.Status] = r.Count
		}
	}

	var completed []models.TrainingRun
	if err := db.Where("status = ? AND started_at IS NOT NULL AND completed_at IS NOT NULL",
		models.RunCompleted).
		Find(&completed).Error; err != nil {
		st.Degraded = append(st.Degraded, fmt.Sprintf("avg duration: %v", err))
	} else if len(completed) > 0 {
		var total time.Duration
		for _, r := range completed {
			total += r.CompletedAt.Sub(*r.StartedAt)
		}
		st.AvgDurationSecs = (total / time.Duration(len(completed))).Seconds()
	}

	return st, nil
}
