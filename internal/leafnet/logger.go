// Package leafnet provides logging for the leafnet package.
package leafnet

import (
	"log/slog"
	"sync"

	"github.com/leafscan/leafnet-go/internal/logging"
)

var (
	serviceLogger *slog.Logger
	initOnce      sync.Once
)

// getLogger returns the leafnet package logger scoped to the leafnet module.
func getLogger() *slog.Logger {
	initOnce.Do(func() {
		serviceLogger = logging.ForService("leafnet")
	})
	return serviceLogger
}
