package database

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/camden-git/gallerydelivery/models"
)

// sqliteDSN appends the pragmas the engine relies on: WAL for concurrent readers, a busy
// timeout so concurrent writers wait instead of failing, and foreign keys.
func sqliteDSN(dataSourceName string) string {
	if strings.Contains(dataSourceName, "?") {
		return dataSourceName
	}
	return dataSourceName + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(dataSourceName string, maxOpenConns int, logLevel logger.LogLevel) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  true,
		},
	)

	db, err := gorm.Open(sqlite.Open(sqliteDSN(dataSourceName)), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 1
	}
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Println("GORM Database initialized successfully at", dataSourceName)
	return db, nil
}

// AutoMigrateModels migrates every table the gallery engine owns and creates the partial
// unique index that makes a second FAVORITE for the same (visitor, image) a constraint
// violation.
func AutoMigrateModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Gallery{},
		&models.Image{},
		&models.Visitor{},
		&models.Action{},
		&models.DailyStat{},
		&models.User{},
	)
	if err != nil {
		return fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}

	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_favorite_unique
		ON actions (visitor_id, image_id) WHERE kind = 'FAVORITE'`).Error
	if err != nil {
		return fmt.Errorf("failed to create favorite uniqueness index: %w", err)
	}

	log.Println("GORM AutoMigrate completed successfully.")
	return nil
}
