package observability

import (
	"fmt"
	"log"
	"sort"
	"strings"
)

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	logger *log.Logger
	// DebugEnabled gates debug output; info and error always emit.
	DebugEnabled bool
}

// NewStdLogger wraps the provided standard logger. A nil logger uses the
// package-level default.
func NewStdLogger(logger *log.Logger, debug bool) *StdLogger {
	if logger == nil {
		logger = log.Default()
	}
	return &StdLogger{logger: logger, DebugEnabled: debug}
}

// Debug emits a debug-level line when enabled.
func (l *StdLogger) Debug(msg string, fields ...Field) {
	if !l.DebugEnabled {
		return
	}
	l.emit("DEBUG", msg, fields)
}

// Info emits an info-level line.
func (l *StdLogger) Info(msg string, fields ...Field) {
	l.emit("INFO", msg, fields)
}

// Error emits an error-level line.
func (l *StdLogger) Error(msg string, fields ...Field) {
	l.emit("ERROR", msg, fields)
}

func (l *StdLogger) emit(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.logger.Printf("%s %s", level, msg)
		return
	}
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f.Key) == "" {
			continue
		}
		pairs = append(pairs, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	sort.Strings(pairs)
	l.logger.Printf("%s %s %s", level, msg, strings.Join(pairs, " "))
}
