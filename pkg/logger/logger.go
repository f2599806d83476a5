package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() { // usable logger even before Init runs
	global = zap.NewNop()
}

// Init builds the global production logger at the requested level.
// Unrecognised level strings fall back to info.
func Init(level string) error {
	cfg := zap.NewProductionConfig()

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	global = built
	mu.Unlock()
	return nil
}

// Logger returns the configured global logger.
func Logger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// Sync flushes buffered log entries.
func Sync() error {
	return Logger().Sync()
}

// WithModule returns a child logger annotated with the module name.
func WithModule(module string) *zap.Logger {
	return Logger().With(zap.String("module", module))
}

// Info logs an informational message using the global logger.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn logs a warning using the global logger.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error logs an error message using the global logger.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Debug logs a debug message using the global logger.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }
