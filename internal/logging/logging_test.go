package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env     string
		verbose bool
		want    slog.Level
	}{
		{"", false, slog.LevelError},
		{"debug", false, slog.LevelDebug},
		{"DEV", false, slog.LevelDebug},
		{"info", false, slog.LevelInfo},
		{"warning", false, slog.LevelWarn},
		{"prod", false, slog.LevelError},
		{"bogus", false, slog.LevelError},
		{"error", true, slog.LevelDebug},
	}
	for _, tt := range tests {
		t.Setenv("LOG_LEVEL", tt.env)
		if got := Level(tt.verbose); got != tt.want {
			t.Errorf("LOG_LEVEL=%q verbose=%v: got %v, want %v", tt.env, tt.verbose, got, tt.want)
		}
	}
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "component", "relay")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "component=relay") {
		t.Fatalf("output = %q", out)
	}
}
