// Package obslog provides a thin leveled wrapper around the standard
// library logger with INFO/WARN/ERROR prefixes and a per-process
// instance tag, so concurrent monitor processes stay distinguishable in
// shared logs.
package obslog

import (
	"fmt"
	"log"
	"os"
)

// Logger writes leveled, prefixed lines to an underlying *log.Logger.
type Logger struct {
	instanceID string
	std        *log.Logger
}

// New builds a Logger that writes to os.Stderr with the given process
// instance id attached to every line.
func New(instanceID string) *Logger {
	return &Logger{
		instanceID: instanceID,
		std:        log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (l *Logger) line(level, format string, args []any) {
	l.std.Printf("%s monitor_instance=%s %s", level, l.instanceID, fmt.Sprintf(format, args...))
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...any) { l.line("INFO", format, args) }

// Warn logs a warning line.
func (l *Logger) Warn(format string, args ...any) { l.line("WARN", format, args) }

// Error logs an error line.
func (l *Logger) Error(format string, args ...any) { l.line("ERROR", format, args) }
