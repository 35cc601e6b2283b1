package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/nodeprep/internal/ports"
)

// timestampLayout is the run log line format: [YYYY-MM-DD HH:MM:SS].
const timestampLayout = "2006-01-02 15:04:05"

// RunLog mirrors every log entry to a persistent append-only file and the
// terminal. Lines are formatted as `[YYYY-MM-DD HH:MM:SS] <message>` so a
// failed run's last lines name the failing check.
type RunLog struct {
	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer
	level   ports.Level
	fields  []ports.Field
	now     func() time.Time
}

// RunLogOption configures the run log.
type RunLogOption func(*RunLog)

// WithConsole sets the terminal mirror writer (default: os.Stdout).
func WithConsole(w io.Writer) RunLogOption {
	return func(l *RunLog) {
		l.console = w
	}
}

// WithRunLogLevel sets the minimum log level (default: Info).
func WithRunLogLevel(level ports.Level) RunLogOption {
	return func(l *RunLog) {
		l.level = level
	}
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) RunLogOption {
	return func(l *RunLog) {
		l.now = now
	}
}

// NewRunLog opens (or creates) the log file at path in append mode.
// The file persists across runs.
func NewRunLog(path string, opts ...RunLogOption) (*RunLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log %s: %w", path, err)
	}
	return newRunLog(file, opts...), nil
}

// NewRunLogWriter builds a RunLog over an arbitrary writer (for tests).
func NewRunLogWriter(w io.WriteCloser, opts ...RunLogOption) *RunLog {
	return newRunLog(w, opts...)
}

func newRunLog(file io.WriteCloser, opts ...RunLogOption) *RunLog {
	l := &RunLog{
		file:    file,
		console: os.Stdout,
		level:   ports.LevelInfo,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close closes the underlying log file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Debug logs a debug message.
func (l *RunLog) Debug(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelDebug, msg, fields)
}

// Info logs an informational message.
func (l *RunLog) Info(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *RunLog) Warn(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelWarn, msg, fields)
}

// Error logs an error message.
func (l *RunLog) Error(ctx context.Context, msg string, fields ...ports.Field) {
	l.log(ctx, ports.LevelError, msg, fields)
}

// With returns a new Logger sharing the same file with extra fields.
func (l *RunLog) With(fields ...ports.Field) ports.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()

	combined := make([]ports.Field, 0, len(l.fields)+len(fields))
	combined = append(combined, l.fields...)
	combined = append(combined, fields...)

	return &RunLog{
		file:    l.file,
		console: l.console,
		level:   l.level,
		fields:  combined,
		now:     l.now,
	}
}

// Level returns the minimum log level.
func (l *RunLog) Level() ports.Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel sets the minimum log level.
func (l *RunLog) SetLevel(level ports.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *RunLog) log(_ context.Context, level ports.Level, msg string, fields []ports.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	line := fmt.Sprintf("[%s] %s%s\n",
		l.now().Format(timestampLayout), msg, formatFields(l.fields, fields))

	// Best effort on both sinks; a broken terminal must not lose the file
	// record, and vice versa.
	_, _ = io.WriteString(l.file, line)
	_, _ = io.WriteString(l.console, line)
}

// Ensure RunLog implements ports.Logger.
var _ ports.Logger = (*RunLog)(nil)
