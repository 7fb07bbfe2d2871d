// Package logging provides structured logging for the enrichment engine,
// backed by zap. Components receive a Logger; the package also keeps a
// process-wide logger for code without an injection point.
package logging

import (
	"context"
	"io"
	"strings"
)

// Level is the severity of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the upper-case name of the level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseLevel maps a level name to a Level, defaulting to InfoLevel for
// anything it does not recognize.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Field is a key-value pair attached to a log message.
type Field struct {
	Key   string
	Value interface{}
}

// Logger is the interface the rest of the engine logs through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	WithFields(fields ...Field) Logger
	WithContext(ctx context.Context) Logger
}

// Config controls logger construction.
type Config struct {
	Level  Level
	Output io.Writer // nil means stdout
	Name   string    // optional logger name
}

// Err builds an error field with the conventional "error" key.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// NamedError builds an error field with a custom key.
func NamedError(key string, err error) Field {
	return Field{Key: key, Value: err}
}
