package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"error", LevelError, false},
		{"WARN", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"debug", LevelDebug, false},
		{"verbose", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, LevelWarn)

	logger.Info("hidden")
	logger.Warn("shown", "stage", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "stage=2") {
		t.Errorf("expected warn message with attributes, got %q", out)
	}
}

func TestWireLevel(t *testing.T) {
	tests := map[slog.Level]string{
		slog.LevelDebug: "debug",
		slog.LevelInfo:  "info",
		slog.LevelWarn:  "warning",
		slog.LevelError: "error",
	}
	for in, want := range tests {
		if got := WireLevel(in); got != want {
			t.Errorf("WireLevel(%v) = %q, want %q", in, got, want)
		}
	}
}
