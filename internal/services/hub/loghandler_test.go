package hub

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/combinedlights-go/pkg/protocol"
)

type recordingSink struct {
	msgs []protocol.Log
}

func (s *recordingSink) BroadcastMessage(m protocol.Message) bool {
	if l, ok := m.(protocol.Log); ok {
		s.msgs = append(s.msgs, l)
	}
	return true
}

func TestLogHandler_ForwardsWarnAndAbove(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{}
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewLogHandler(inner, sink, "test"))

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line", "n", 1)
	logger.Error("error line")

	require.Len(t, sink.msgs, 2)
	assert.Equal(t, protocol.Log{Level: "warning", Message: "warn line n=1", Name: "test"}, sink.msgs[0])
	assert.Equal(t, "error", sink.msgs[1].Level)

	// Everything still reaches the inner handler.
	for _, line := range []string{"debug line", "info line", "warn line", "error line"} {
		assert.Contains(t, buf.String(), line)
	}
}

func TestLogHandler_InnerLevelRespected(t *testing.T) {
	var buf bytes.Buffer
	sink := &recordingSink{}
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewLogHandler(inner, sink, "test"))

	logger.Warn("forwarded only")

	assert.Len(t, sink.msgs, 1)
	assert.Empty(t, buf.String())
}

func TestLogHandler_WithAttrs(t *testing.T) {
	sink := &recordingSink{}
	inner := slog.NewTextHandler(&bytes.Buffer{}, nil)
	logger := slog.New(NewLogHandler(inner, sink, "test")).With("component", "sim")

	logger.Warn("oops")

	require.Len(t, sink.msgs, 1)
	assert.Equal(t, "oops component=sim", sink.msgs[0].Message)
}
