package db

import (
	"fmt"

	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/config"
	"github.com/ScarletRedJoker/Nebula-Command-sub014/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Node{},
		&models.GPUSnapshot{},
		&models.VramLock{},
		&models.TrainingRun{},
		&models.TrainingCheckpoint{},
		&models.TrainingEvent{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedNodes upserts Node rows from configuration. The node registry is
// read-only to the scheduler at runtime; this is the only writer.
func SeedNodes(db *gorm.DB, nodes []config.NodeConfig) error {
	for _, nc := range nodes {
		name := nc.Name
		if name == "" {
			name = nc.ID
		}
		node := models.Node{
			ID:      nc.ID,
			Name:    name,
			Enabled: nc.NodeEnabled(),
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "enabled"}),
		}).Create(&node)
		if result.Error != nil {
			return fmt.Errorf("db: seed node %q: %w", nc.ID, result.Error)
		}
	}
	return nil
}
