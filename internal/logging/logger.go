// Package logging provides a small leveled logger with key=value fields.
// Output goes to stderr so stdout stays reserved for the analysis result.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a log severity level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the level name.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level. Unknown names map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// core is shared between a logger and the children created by With.
type core struct {
	mu    sync.Mutex
	level Level
	inner *log.Logger
}

// Logger writes leveled lines of the form "[LEVEL] message key=value ...".
type Logger struct {
	c      *core
	fields string
}

// New creates a Logger writing to w at the given minimum level.
func New(w io.Writer, level Level) *Logger {
	return &Logger{c: &core{level: level, inner: log.New(w, "", log.LstdFlags)}}
}

var defaultLogger = New(os.Stderr, INFO)

// Default returns the package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Discard returns a logger that drops everything, for tests.
func Discard() *Logger {
	return New(io.Discard, ERROR+1)
}

// SetLevel sets the minimum log level for this logger and its children.
func (l *Logger) SetLevel(level Level) {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	l.c.level = level
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return level >= l.c.level
}

// With returns a child logger that appends key=value to every line.
// Values containing spaces are quoted.
func (l *Logger) With(key string, value interface{}) *Logger {
	v := fmt.Sprint(value)
	if v == "" || strings.ContainsAny(v, " \t\"=") {
		v = fmt.Sprintf("%q", v)
	}
	return &Logger{c: l.c, fields: l.fields + " " + key + "=" + v}
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs a message at INFO level.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a message at WARN level.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs a message at ERROR level.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.c.inner.Printf("[%s] %s%s", level, msg, l.fields)
}
