package log

import (
	"fmt"
	"time"
)

// Logger provides structured logging for the host's control plane.
// Implementations must be safe for concurrent use; the watchdog, the signal
// router and every worker log from their own goroutines.
type Logger interface {
	// Debug logs a debug-level message with fields.
	Debug(msg string, fields ...Field)

	// Info logs an info-level message with fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning-level message with fields.
	Warn(msg string, fields ...Field)

	// Error logs an error-level message with fields.
	Error(msg string, fields ...Field)

	// With returns a child logger that attaches fields to every message.
	With(fields ...Field) Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Uint64 creates a uint64 field.
func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Component tags a logger with the control-plane component it belongs to.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

// Engine identifies a processing engine by slot index.
func Engine(idx int) Field {
	return Field{Key: "engine", Value: idx}
}

// Worker identifies a launched worker by name.
func Worker(name string) Field {
	return Field{Key: "worker", Value: name}
}

// Thread identifies an OS thread.
func Thread(tid uint64) Field {
	return Field{Key: "tid", Value: tid}
}

// Trigger records what caused a lifecycle action. Any fmt.Stringer works,
// which keeps this package free of lifecycle imports.
func Trigger(t fmt.Stringer) Field {
	return Field{Key: "trigger", Value: t.String()}
}
