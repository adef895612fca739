package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	mu     sync.RWMutex
	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           log.InfoLevel,
	})
)

// Init configures the global logger. level is one of debug, info, warn or
// error; format is text, json or logfmt. A nil writer means stderr.
func Init(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           parseLevel(level),
		Formatter:       parseFormatter(format),
	})

	mu.Lock()
	logger = l
	mu.Unlock()
}

func parseLevel(level string) log.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func parseFormatter(format string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

func current() *log.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Info logs an info message
func Info(msg string, keyvals ...interface{}) {
	current().Info(msg, keyvals...)
}

// Debug logs a debug message
func Debug(msg string, keyvals ...interface{}) {
	current().Debug(msg, keyvals...)
}

// Warn logs a warning message
func Warn(msg string, keyvals ...interface{}) {
	current().Warn(msg, keyvals...)
}

// Error logs an error message
func Error(msg string, keyvals ...interface{}) {
	current().Error(msg, keyvals...)
}

// Fatal logs an error message and exits
func Fatal(msg string, keyvals ...interface{}) {
	current().Fatal(msg, keyvals...)
}

// WithPrefix returns a logger with a prefix
func WithPrefix(prefix string) *log.Logger {
	return current().WithPrefix(prefix)
}
