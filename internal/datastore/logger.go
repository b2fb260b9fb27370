package datastore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leafscan/leafnet-go/internal/logging"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// getLogger returns the datastore package logger scoped to the datastore module.
func getLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForService("datastore")
	})
	return serviceLogger
}

// gormSlogAdapter routes GORM's logger interface into the structured logger.
type gormSlogAdapter struct {
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

func newGormSlogAdapter(slowThreshold time.Duration, level gormlogger.LogLevel) gormlogger.Interface {
	return &gormSlogAdapter{slowThreshold: slowThreshold, level: level}
}

func (g *gormSlogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormSlogAdapter{slowThreshold: g.slowThreshold, level: level}
}

func (g *gormSlogAdapter) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		getLogger().Info(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		getLogger().Warn(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		getLogger().Error(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		getLogger().Error("query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		getLogger().Warn("slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
