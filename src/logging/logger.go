package logging

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log   = zap.NewNop()
	logMu sync.RWMutex
)

// Config holds logger configuration
type Config struct {
	Debug bool
	Level string
}

// Initialize builds the global logger. Debug switches to the console encoder.
func Initialize(cfg Config) error {
	var zapConfig zap.Config
	if cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(ParseLevel(cfg.Level, cfg.Debug))

	built, err := zapConfig.Build()
	if err != nil {
		return err
	}

	logMu.Lock()
	log = built
	logMu.Unlock()
	zap.RedirectStdLog(built)
	return nil
}

// ParseLevel maps a level name onto a zap level, falling back to info.
func ParseLevel(name string, debug bool) zapcore.Level {
	if debug {
		return zapcore.DebugLevel
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Default returns the global logger.
func Default() *zap.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

// Named returns a child of the global logger for a component.
func Named(component string) *zap.Logger {
	return Default().Named(component)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Default().Sync()
}
