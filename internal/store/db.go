package store

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/iaros/pricewatch/internal/config"
)

// Connect opens the postgres connection and configures pool limits,
// grounded on distribution_service/src/database/connection.go's
// ConnectDatabase.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// AutoMigrate creates/updates the schema for the rows this package owns.
// The queue package migrates its own job/DLQ rows separately (see
// queue.AutoMigrate), since the Job Queue owns that schema per spec.md §3.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TrackerRow{},
		&PricePointRow{},
	)
}
