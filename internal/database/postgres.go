// Package database keeps the optional operational audit trail: commands,
// inspection sessions and captured snapshots. The robot never reads any of it
// back for control decisions; a missing database only disables history.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"inspection-robot/internal/config"
	"inspection-robot/internal/models"
	"inspection-robot/internal/utils"
)

// Connect opens the audit database and migrates its tables.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("audit database connection failed: %w", err)
	}

	if err := db.AutoMigrate(
		&models.CommandLog{},
		&models.InspectionSession{},
		&models.SnapshotRecord{},
	); err != nil {
		return nil, fmt.Errorf("audit schema migration failed: %w", err)
	}

	utils.Logger.Infof("audit database ready at %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)
	return db, nil
}
