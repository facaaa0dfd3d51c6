package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bbernstein/combinedlights-go/internal/logging"
	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

// LogSink receives forwarded log lines.
type LogSink interface {
	BroadcastMessage(m protocol.Message) bool
}

// LogHandler is an slog.Handler that writes through to an inner handler and also forwards
// records at or above a minimum level to every connected client as "log" messages.
//
// The hub's own logger must not use a LogHandler, or hub warnings would feed back into it.
type LogHandler struct {
	inner slog.Handler
	sink  LogSink
	name  string
	min   slog.Level
	attrs []slog.Attr
}

// NewLogHandler forwards warnings and errors logged through inner to sink, tagged with name.
func NewLogHandler(inner slog.Handler, sink LogSink, name string) *LogHandler {
	return &LogHandler{inner: inner, sink: sink, name: name, min: slog.LevelWarn}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min && h.sink != nil {
		h.sink.BroadcastMessage(protocol.Log{
			Level:   logging.WireLevel(r.Level),
			Message: h.format(r),
			Name:    h.name,
		})
	}
	if !h.inner.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.inner = h.inner.WithGroup(name)
	return &next
}

// format renders the message followed by key=value pairs.
func (h *LogHandler) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Message)
	write := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	return b.String()
}
