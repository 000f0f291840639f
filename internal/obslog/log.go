// Package obslog is the structured logging wrapper used across the mark
// entity packages. It mirrors the component-scoped, key/value logging
// style used throughout the retrieval pack (logging.WithComponent(...)
// returning a handle with leveled methods) on top of the standard
// library's log/slog.
package obslog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Config controls how the root Logger is built.
type Config struct {
	// Level is the minimum level that will be emitted.
	Level slog.Level
	// Output is where log lines are written. Defaults to os.Stderr.
	Output io.Writer
	// JSON selects JSON output instead of human-readable text.
	JSON bool
}

// DefaultConfig returns sane defaults: Info level, text output to stderr.
func DefaultConfig() Config {
	return Config{Level: slog.LevelInfo, Output: os.Stderr}
}

// Logger is a thin handle around *slog.Logger that carries a component
// name and a fixed set of scoping attributes (e.g. ue_index, psi).
type Logger struct {
	inner *slog.Logger
}

// New builds a root Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{inner: slog.New(handler)}
}

// WithComponent returns a Logger scoped to the named component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With returns a Logger with the given key/value pairs attached to every
// subsequent log line.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }

// Enabled reports whether the logger would emit a record at level.
func (l *Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

// Discard returns a Logger that drops everything. Useful as a nil-safe
// default in constructors.
func Discard() *Logger {
	return &Logger{inner: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
