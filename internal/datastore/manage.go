package datastore

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/theRAGEhero/world-cafe/internal/errors"
)

// performAutoMigration runs GORM auto-migration for all entities.
func performAutoMigration(db *gorm.DB, logger *slog.Logger, dbType string) error {
	err := db.AutoMigrate(
		&Session{},
		&Table{},
		&Participant{},
		&Recording{},
		&Transcription{},
	)
	if err != nil {
		return errors.New(fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}

	logger.Info("database schema up to date", "type", dbType)
	return nil
}
