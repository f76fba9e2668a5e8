// Package utils holds small shared helpers, primarily the process logger.
package utils

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

var (
	logger   *slog.Logger
	loggerMu sync.Mutex
)

// InitLogger configures the process-wide logger. Level is one of debug,
// info, warn or error (case-insensitive); anything else falls back to info.
func InitLogger(level string) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = newLogger(level)
	slog.SetDefault(logger)
}

// GetLogger returns the shared logger, initializing it with defaults when
// InitLogger was never called.
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = newLogger("")
	}
	return logger
}

func newLogger(level string) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(level),
		TimeFormat: time.TimeOnly,
	}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
