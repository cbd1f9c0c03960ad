// Package ctxlog carries a *slog.Logger through context.Context.
//
// Ambient loggers travel with the ctx the same way the current zone and the
// current cleanup registry do, so deep call chains (service constructors,
// init hooks, cleanup callbacks) log with the fields of the isolation they
// run in without taking a logger parameter.
package ctxlog

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from ctx. If no logger is found, it returns
// slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// FromContextOr is FromContext with an explicit fallback for contexts that
// carry no logger. A nil fallback means slog.Default().
func FromContextOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// With returns ctx carrying the current logger enriched with args.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}

// New builds a text or JSON logger. Unknown levels fall back to info and
// unknown formats fall back to text.
func New(levelStr, formatStr string, w io.Writer) *slog.Logger {
	return slog.New(NewHandler(levelStr, formatStr, w))
}

// NewHandler is the handler used by New.
func NewHandler(levelStr, formatStr string, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	if strings.EqualFold(formatStr, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel maps debug/info/warn/error (any case) to a slog.Level.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
