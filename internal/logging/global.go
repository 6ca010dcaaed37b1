package logging

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger builds the process logger. format "json" writes JSON lines,
// anything else a human-readable console.
func InitGlobalLogger(level LogLevel, format string) *Logger {
	var logger *Logger
	if format == "json" {
		logger = NewLogger(level, os.Stdout)
	} else {
		logger = NewLogger(level, zerolog.ConsoleWriter{Out: os.Stdout})
	}

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
	return logger
}

// GetGlobalLogger returns the process logger, creating an info-level one on first use
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	logger := globalLogger
	globalMu.RUnlock()
	if logger != nil {
		return logger
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogger(InfoLevel, os.Stdout)
	}
	return globalLogger
}

// WithFields returns a child of the process logger carrying fields
func WithFields(fields map[string]interface{}) *zerolog.Logger {
	return GetGlobalLogger().WithFields(fields)
}

// WithModule tags log lines with the emitting package
func WithModule(module string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Str("module", module).Logger()
	return &logger
}

// WithJob tags log lines with the queue and task type
func WithJob(queue, jobType string) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().
		Str("queue", queue).
		Str("job_type", jobType).
		Logger()
	return &logger
}

// WithError returns a child logger with err attached
func WithError(err error) *zerolog.Logger {
	logger := GetGlobalLogger().logger.With().Err(err).Logger()
	return &logger
}
