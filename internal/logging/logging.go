package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// String returns the lower-case level name
func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("unknown(%d)", l)
}

func (l LogLevel) tag() string {
	return "[" + strings.ToUpper(l.String()) + "] "
}

var (
	level     atomic.Int32
	levelInit sync.Once
)

func current() LogLevel {
	levelInit.Do(func() { level.Store(int32(levelFromEnv())) })
	return LogLevel(level.Load())
}

// levelFromEnv resolves the level from DEBUG (checked first) and LOG_LEVEL.
func levelFromEnv() LogLevel {
	switch strings.ToLower(os.Getenv("DEBUG")) {
	case "1", "true", "yes", "on":
		return LevelDebug
	}
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

// ParseLevel converts a level name into a LogLevel. Unknown names map to info.
func ParseLevel(s string) LogLevel {
	switch name := strings.ToLower(strings.TrimSpace(s)); name {
	case "warning":
		return LevelWarn
	default:
		for i, n := range levelNames {
			if n == name {
				return LogLevel(i)
			}
		}
	}
	return LevelInfo
}

// SetLevel overrides the level resolved from the environment. The CLI's
// --log-level flag and the TOML log_level key both end up here.
func SetLevel(l LogLevel) {
	current()
	level.Store(int32(l))
}

// GetLevel returns the current log level
func GetLevel() LogLevel { return current() }

// IsDebugEnabled reports whether debug messages are printed.
func IsDebugEnabled() bool { return current() <= LevelDebug }

func logf(l LogLevel, format string, args ...any) {
	if current() <= l {
		log.Printf(l.tag()+format, args...)
	}
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...any) { logf(LevelDebug, format, args...) }

// Info logs an info message
func Info(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warn logs a warning message
func Warn(format string, args ...any) { logf(LevelWarn, format, args...) }

// Error logs an error message
func Error(format string, args ...any) { logf(LevelError, format, args...) }

// Fatal logs regardless of level and exits with status 1.
func Fatal(format string, args ...any) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Printf logs regardless of level and without a tag. The access log uses
// it so W3C lines stay parseable.
func Printf(format string, args ...any) {
	log.Printf(format, args...)
}

// Logger prefixes every message with a component name so interleaved output
// from concurrent ingest workers stays attributable.
type Logger struct {
	prefix string
}

// For returns a Logger for the named component.
func For(component string) Logger {
	return Logger{prefix: "[" + component + "] "}
}

func (l Logger) Debug(format string, args ...any) { logf(LevelDebug, l.prefix+format, args...) }
func (l Logger) Info(format string, args ...any)  { logf(LevelInfo, l.prefix+format, args...) }
func (l Logger) Warn(format string, args ...any)  { logf(LevelWarn, l.prefix+format, args...) }
func (l Logger) Error(format string, args ...any) { logf(LevelError, l.prefix+format, args...) }
