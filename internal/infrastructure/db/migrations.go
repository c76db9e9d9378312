package db

import (
	"github.com/devault/backend/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	err := db.AutoMigrate(
		&domain.Project{},
		&domain.TimelineEvent{},
		&domain.SystemSetting{},
	)
	if err != nil {
		return err
	}

	if err := createCustomIndexes(db); err != nil {
		return err
	}

	return nil
}

func createCustomIndexes(db *gorm.DB) error {
	// Timeline lookups by task, newest first
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_task_created
		ON timeline_events (task, created_at DESC)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}

	return nil
}
