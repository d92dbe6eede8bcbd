package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetupWriter(t *testing.T) {
	if w := SetupWriter(Config{Output: "stdout"}); w != os.Stdout {
		t.Error("expected os.Stdout for stdout output")
	}
	if w := SetupWriter(Config{Output: ""}); w != os.Stderr {
		t.Error("expected os.Stderr as the default writer")
	}
	if w := SetupWriter(Config{Output: "file"}); w != os.Stderr {
		t.Error("expected fallback to os.Stderr when no filename is set")
	}

	w := SetupWriter(Config{Output: "file", Filename: "/tmp/test.log", MaxSize: 1})
	if _, ok := w.(*lumberjack.Logger); !ok {
		t.Errorf("expected *lumberjack.Logger for file output, got %T", w)
	}
}

func TestNewCorrelationID(t *testing.T) {
	a, b := NewCorrelationID(), NewCorrelationID()
	if !strings.HasPrefix(a, "cid_") {
		t.Errorf("unexpected correlation id format: %q", a)
	}
	if a == b {
		t.Error("correlation ids must be unique")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "cid_test")
	if got := CorrelationID(ctx); got != "cid_test" {
		t.Errorf("CorrelationID = %q, want cid_test", got)
	}
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("expected empty correlation id on bare context, got %q", got)
	}
}
