// Package logging defines a minimal structured-logging interface used across
// the project. Implementations wrap slog (JSON, default) and zerolog
// (human-readable console output for local runs).
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "code issued", "email", email, "ttl", ttl)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// New picks an implementation by format name: "console" selects zerolog's
// console writer, anything else yields JSON via slog. Records below level
// ("debug", "info", "warn", "error") are dropped.
func New(format, level string, out io.Writer) Logger {
	lvl := ParseLevel(level)
	if strings.EqualFold(format, "console") {
		return NewConsoleLogger(out, lvl)
	}
	return NewJSONLogger(out, lvl)
}

// Nop discards everything. Useful in tests.
func Nop() Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}
