// Package training owns the training-run state machine, progress and
// checkpoint recording, and run statistics.
package training

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/apperr"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/events"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ValidTransitions maps each run status to its legal next statuses.
var ValidTransitions = map[string][]string{
	models.RunPending:   {models.RunPreparing, models.RunCancelled},
	models.RunPreparing: {models.RunTraining, models.RunFailed, models.RunCancelled},
	models.RunTraining:  {models.RunCompleted, models.RunFailed, models.RunCancelled},
}

func isValidTransition(from, to string) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isTerminal(status string) bool {
	switch status {
	case models.RunCompleted, models.RunFailed, models.RunCancelled:
		return true
	}
	return false
}

var validRunTypes = map[string]bool{
	models.RunTypeLora:       true,
	models.RunTypeQlora:      true,
	models.RunTypeSDXL:       true,
	models.RunTypeDreambooth: true,
}

// GenerateID creates a unique run ID in run-xxxxxx format (6-char hex).
func GenerateID() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("training: generate ID: %w", err)
	}
	return "run-" + hex.EncodeToString(b), nil
}

// CreateOpts holds parameters for creating a training run.
type CreateOpts struct {
	RunType     string
	BaseModel   string
	OutputName  string
	DatasetPath string
	DatasetSize int64
	Config      datatypes.JSON
	UserID      string
}

// epochsFromConfig pulls total epochs out of the run-type config variant.
func epochsFromConfig(config datatypes.JSON) int {
	if len(config) == 0 {
		return 0
	}
	var c struct {
		Epochs int `json:"epochs"`
	}
	if err := json.Unmarshal(config, &c); err != nil {
		return 0
	}
	return c.Epochs
}

// CreateRun persists a new run in pending state, derives totalEpochs from the
// supplied config, and emits a "created" event. The "started" event is
// reserved for StartRun — each event type has one canonical meaning.
func CreateRun(db *gorm.DB, bus *events.Bus, opts CreateOpts) (*models.TrainingRun, error) {
	if !validRunTypes[opts.RunType] {
		return nil, fmt.Errorf("training: unknown run type %q", opts.RunType)
	}
	if opts.OutputName == "" {
		return nil, fmt.Errorf("training: outputName is required")
	}

	id, err := GenerateID()
	if err != nil {
		return nil, err
	}

	run := models.TrainingRun{
		ID:          id,
		RunType:     opts.RunType,
		BaseModel:   opts.BaseModel,
		OutputName:  opts.OutputName,
		DatasetPath: opts.DatasetPath,
		DatasetSize: opts.DatasetSize,
		Config:      opts.Config,
		Status:      models.RunPending,
		TotalEpochs: epochsFromConfig(opts.Config),
		UserID:      opts.UserID,
		CreatedAt:   time.Now(),
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("training: create run: %w", apperr.Classify(err))
	}

	if bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"run_type":     run.RunType,
			"output_name":  run.OutputName,
			"total_epochs": run.TotalEpochs,
		})
		bus.Emit(run.ID, models.EventCreated, payload)
	}
	return &run, nil
}

// GetRun retrieves a run by ID with its checkpoints.
func GetRun(db *gorm.DB, runID string) (*models.TrainingRun, error) {
	var run models.TrainingRun
	err := db.Preload("Checkpoints", func(db *gorm.DB) *gorm.DB {
		return db.Order("step ASC, id ASC")
	}).First(&run, "id = ?", runID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("training: run %s: %w", runID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("training: get run %s: %w", runID, apperr.Classify(err))
	}
	return &run, nil
}

// transition applies a guarded status update. The WHERE clause re-checks the
// source status so concurrent transitions cannot both win.
func transition(db *gorm.DB, runID, from, to string, updates map[string]interface{}) error {
	updates["status"] = to
	updates["updated_at"] = time.Now()
	res := db.Model(&models.TrainingRun{}).
		Where("id = ? AND status = ?", runID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("training: transition run %s to %s: %w", runID, to, apperr.Classify(res.Error))
	}
	if res.RowsAffected == 0 {
		var current models.TrainingRun
		if err := db.First(&current, "id = ?", runID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("training: run %s: %w", runID, apperr.ErrNotFound)
			}
			return fmt.Errorf("training: recheck run %s: %w", runID, err)
		}
		return fmt.Errorf("training: run %s is %s, cannot transition to %s: %w",
			runID, current.Status, to, apperr.ErrInvalidState)
	}
	return nil
}

// StartRun moves a pending run to preparing and stamps StartedAt.
func StartRun(db *gorm.DB, bus *events.Bus, runID string) error {
	now := time.Now()
	if err := transition(db, runID, models.RunPending, models.RunPreparing, map[string]interface{}{
		"started_at": now,
	}); err != nil {
		return err
	}
	if bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{"started_at": now.UTC()})
		bus.Emit(runID, models.EventStarted, payload)
	}
	return nil
}

// Progress carries an incremental update from the training worker.
type Progress struct {
	CurrentEpoch    int            `json:"current_epoch"`
	TotalEpochs     int            `json:"total_epochs"`
	CurrentStep     int            `json:"current_step"`
	TotalSteps      int            `json:"total_steps"`
	ProgressPercent float64        `json:"progress_percent"`
	Metrics         datatypes.JSON `json:"metrics,omitempty"`
}

// UpdateProgress sets epoch/step/percent/metrics and forces the run into
// training state. Safe to call repeatedly, including while the run is still
// preparing. Only terminal runs reject it.
func UpdateProgress(db *gorm.DB, bus *events.Bus, runID string, p Progress) error {
	run, err := GetRun(db, runID)
	if err != nil {
		return err
	}
	if isTerminal(run.Status) {
		return fmt.Errorf("training: run %s is %s, cannot update progress: %w",
			runID, run.Status, apperr.ErrInvalidState)
	}

	updates := map[string]interface{}{
		"status":           models.RunTraining,
		"current_epoch":    p.CurrentEpoch,
		"current_step":     p.CurrentStep,
		"progress_percent": p.ProgressPercent,
		"updated_at":       time.Now(),
	}
	if p.TotalEpochs > 0 {
		updates["total_epochs"] = p.TotalEpochs
	}
	if p.TotalSteps > 0 {
		updates["total_steps"] = p.TotalSteps
	}
	if len(p.Metrics) > 0 {
		updates["metrics"] = p.Metrics
	}
	res := db.Model(&models.TrainingRun{}).
		Where("id = ? AND status IN ?", runID,
			[]string{models.RunPending, models.RunPreparing, models.RunTraining}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("training: update progress for %s: %w", runID, apperr.Classify(res.Error))
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("training: run %s turned terminal, cannot update progress: %w",
			runID, apperr.ErrInvalidState)
	}

	if bus != nil {
		payload, _ := json.Marshal(p)
		bus.Emit(runID, models.EventProgress, payload)
	}
	return nil
}

// SaveCheckpoint appends a checkpoint record. Prior checkpoints are never
// overwritten, and steps must be non-decreasing.
func SaveCheckpoint(db *gorm.DB, bus *events.Bus, runID, path string, epoch, step int, loss *float64) (*models.TrainingCheckpoint, error) {
	if path == "" {
		return nil, fmt.Errorf("training: checkpoint path is required")
	}
	run, err := GetRun(db, runID)
	if err != nil {
		return nil, err
	}
	if isTerminal(run.Status) {
		return nil, fmt.Errorf("training: run %s is %s, cannot checkpoint: %w",
			runID, run.Status, apperr.ErrInvalidState)
	}
	if n := len(run.Checkpoints); n > 0 && step < run.Checkpoints[n-1].Step {
		return nil, fmt.Errorf("training: checkpoint step %d regresses below %d",
			step, run.Checkpoints[n-1].Step)
	}

	cp := models.TrainingCheckpoint{
		RunID:     runID,
		Path:      path,
		Epoch:     epoch,
		Step:      step,
		Loss:      loss,
		CreatedAt: time.Now(),
	}
	if err := db.Create(&cp).Error; err != nil {
		return nil, fmt.Errorf("training: save checkpoint for %s: %w", runID, apperr.Classify(err))
	}

	if bus != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"path": path, "epoch": epoch, "step": step,
		})
		bus.Emit(runID, models.EventCheckpoint, payload)
	}
	return &cp, nil
}

// Result carries the worker's final output for a completed run.
type Result struct {
	OutputPath   string         `json:"output_path"`
	OutputSize   int64          `json:"output_size"`
	FinalMetrics datatypes.JSON `json:"final_metrics,omitempty"`
}

// CompleteRun is the terminal transition to completed. Progress is forced to
// 100 percent and the output artifact recorded.
func CompleteRun(db *gorm.DB, bus *events.Bus, runID string, result Result) error {
	now := time.Now()
	updates := map[string]interface{}{
		"output_path":      result.OutputPath,
		"output_size":      result.OutputSize,
		"progress_percent": 100.0,
		"completed_at":     now,
	}
	if len(result.FinalMetrics) > 0 {
		updates["metrics"] = result.FinalMetrics
	}
	if err := transition(db, runID, models.RunTraining, models.RunCompleted, updates); err != nil {
		return err
	}
	if bus != nil {
		payload, _ := json.Marshal(result)
		bus.Emit(runID, models.EventCompleted, payload)
	}
	return nil
}

// CancelRun is the terminal transition to cancelled, legal from pending,
// preparing, or training. It is a cooperative signal only; the worker
// process is not terminated here.
func CancelRun(db *gorm.DB, bus *events.Bus, runID string) error {
	run, err := GetRun(db, runID)
	if err != nil {
		return err
	}
	if !isValidTransition(run.Status, models.RunCancelled) {
		return fmt.Errorf("training: run %s is %s, cannot cancel: %w",
			runID, run.Status, apperr.ErrInvalidState)
	}
	if err := transition(db, runID, run.Status, models.RunCancelled, map[string]interface{}{
		"completed_at": time.Now(),
	}); err != nil {
		return err
	}
	if bus != nil {
		bus.Emit(runID, models.EventCancelled, nil)
	}
	return nil
}

// FailRun is the terminal transition to failed, legal from preparing or
// training.
func FailRun(db *gorm.DB, bus *events.Bus, runID, errMsg, details string) error {
	run, err := GetRun(db, runID)
	if err != nil {
		return err
	}
	if !isValidTransition(run.Status, models.RunFailed) {
		return fmt.Errorf("training: run %s is %s, cannot fail: %w",
			runID, run.Status, apperr.ErrInvalidState)
	}
	if err := transition(db, runID, run.Status, models.RunFailed, map[string]interface{}{
		"error":         errMsg,
		"error_details": details,
		"completed_at":  time.Now(),
	}); err != nil {
		return err
	}
	if bus != nil {
		payload, _ := json.Marshal(map[string]string{"error": errMsg, "details": details})
		bus.Emit(runID, models.EventError, payload)
	}
	return nil
}
