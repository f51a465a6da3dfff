// Package log is a thin wrapper around log/slog with a settable level and a
// replaceable logger, so host applications can route our output into their own
// logging setup.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	logger   = defaultLogger()
)

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: levelVar})
	return slog.New(h)
}

// SetLogger replaces the logger used by this library. A nil logger is ignored.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Logger returns the logger currently in use.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogLevel maps a level name (case-insensitive) onto the slog level used by
// the default handler. Accepted: debug, info, warn, warning, err, error.
func SetLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "err", "error":
		levelVar.Set(slog.LevelError)
	default:
		return fmt.Errorf("invalid log level: %q", level)
	}
	return nil
}

func Debug(msg string, args ...any) {
	Logger().With("lib", "gatehouse").Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger().With("lib", "gatehouse").Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Logger().With("lib", "gatehouse").Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Logger().With("lib", "gatehouse").Error(msg, args...)
}
