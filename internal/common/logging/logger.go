package logging

import (
	"os"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalLogger Logger
	initOnce     sync.Once
)

// SetGlobal replaces the process-wide logger.
func SetGlobal(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// Global returns the process-wide logger, building a default one on first use.
func Global() Logger {
	initOnce.Do(func() {
		globalMu.Lock()
		defer globalMu.Unlock()
		if globalLogger == nil {
			globalLogger = NewZapLogger(Config{Level: ParseLevel(os.Getenv("LOG_LEVEL"))})
		}
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Init configures the global logger from LOG_LEVEL and LOG_FILE. When
// LOG_FILE is unset, log lines go to stdout.
func Init() error {
	cfg := Config{Level: ParseLevel(os.Getenv("LOG_LEVEL"))}

	if name := os.Getenv("LOG_FILE"); name != "" {
		file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		cfg.Output = file
	}

	logger := NewZapLogger(cfg)
	SetGlobal(logger)
	logger.Info("logger initialized", Field{"level", cfg.Level.String()})
	return nil
}

// Sync flushes the global logger if it buffers. Called before exit.
func Sync() {
	if z, ok := Global().(*ZapAdapter); ok {
		_ = z.Sync()
	}
}

// Package-level convenience functions over the global logger.

func Debug(msg string, fields ...Field) { Global().Debug(msg, fields...) }

func Info(msg string, fields ...Field) { Global().Info(msg, fields...) }

func Warn(msg string, fields ...Field) { Global().Warn(msg, fields...) }

func Error(msg string, err error, fields ...Field) { Global().Error(msg, err, fields...) }
