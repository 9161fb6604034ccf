package db

import (
	"nano_storage/internal/domain" // Importing domain models

	"github.com/sirupsen/logrus"

	"gorm.io/driver/mysql" // MySQL driver for GORM
	"gorm.io/gorm"         // GORM ORM library
	"gorm.io/gorm/logger"  // GORM logger levels
)

// Models lists every table owned by the settlement service
func Models() []any {
	return []any{
		&domain.WalletCredit{},      // Local balance cache
		&domain.CreditTransaction{}, // Balance journal
		&domain.PaymentRecord{},     // Consumed one-shot payments (swept)
		&domain.ConsumedNonce{},     // Permanent replay markers
		&domain.FileEntry{},         // File metadata
	}
}

// Open connects to MySQL using the given DSN
func Open(dsn string, isProd bool) (*gorm.DB, error) {
	level := logger.Info // Verbose SQL logging outside production
	if isProd {
		level = logger.Warn
	}
	return gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
}

// Migrate performs automatic migration for the database schema
func Migrate(db *gorm.DB) error {
	// AutoMigrate will create tables, missing foreign keys, constraints, columns and indexes
	if err := db.AutoMigrate(Models()...); err != nil {
		return err
	}
	logrus.Info("Migration completed.") // Log successful migration
	return nil
}
