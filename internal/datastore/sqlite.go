package datastore

import (
	"fmt"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/theRAGEhero/world-cafe/internal/conf"
)

// SQLiteStore implements the datastore interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection and runs migrations.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving sqlite path %s: %w", path, err)
	}

	db, err := gorm.Open(sqlite.Open(absPath), &gorm.Config{
		Logger: newGormLogger(store.logger),
	})
	if err != nil {
		store.logger.Error("failed to open SQLite database", "path", absPath, "error", err)
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows one writer at a time; serialize access through a
	// single connection to avoid SQLITE_BUSY under concurrent writes.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("retrieving sql.DB handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	return performAutoMigration(db, store.logger, "SQLite")
}

// Close closes the SQLite database connection.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return fmt.Errorf("database connection is not initialized")
	}
	sqlDB, err := store.DB.DB()
	if err != nil {
		store.logger.Error("failed to retrieve generic DB object", "error", err)
		return err
	}
	if err := sqlDB.Close(); err != nil {
		store.logger.Error("failed to close SQLite database", "error", err)
		return err
	}
	return nil
}
