package zone

import (
	"context"
	"fmt"
	"log/slog"
)

// LogHandler wraps a slog.Handler and adds a "zone" attribute to records
// logged from inside a non-root zone.
type LogHandler struct {
	inner   slog.Handler
	tracker *Tracker
}

// NewLogHandler wraps inner. With a nil t the process-wide tracker is
// consulted for every record.
func NewLogHandler(inner slog.Handler, t *Tracker) *LogHandler {
	return &LogHandler{inner: inner, tracker: t}
}

// Enabled reports whether the wrapped handler handles level.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle adds the zone of ctx to r and passes it on.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	t := h.tracker
	if t == nil {
		t = Default()
	}
	if t != nil && ctx != nil {
		if z := t.ZoneID(ctx); z != Root {
			r.AddAttrs(slog.Uint64("zone", uint64(z)))
		}
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("zone handler: %w", err)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: h.inner.WithAttrs(attrs), tracker: h.tracker}
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: h.inner.WithGroup(name), tracker: h.tracker}
}
