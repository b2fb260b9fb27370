package datastore

import (
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leafscan/leafnet-go/internal/errors"
)

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow. Sweep commits are short record-scoped transactions, so
// anything near a second deserves a log line.
const DefaultSlowQueryThreshold = 1 * time.Second

// createGormLogger configures and returns a new GORM logger instance backed
// by the application's structured logger.
func createGormLogger() gormlogger.Interface {
	return newGormSlogAdapter(DefaultSlowQueryThreshold, gormlogger.Warn)
}

// performAutoMigration runs schema migration for all model tables.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Diagnosis{}); err != nil {
		return errors.Wrap(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Context("connection", connectionInfo).
			Build()
	}
	if debug {
		getLogger().Debug("auto-migration completed", "db_type", dbType, "connection", connectionInfo)
	}
	return nil
}
