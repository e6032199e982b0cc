package logging

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestLineHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLineHandler("collector", slog.LevelDebug, &buf)
	logger := slog.New(handler)

	logger.Info("started")

	line := buf.String()
	re := regexp.MustCompile(
		`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}[+-]\d{2}:\d{2} collector \[INFO\] [^ ]*: started\n$`,
	)
	if !re.MatchString(line) {
		t.Errorf("log line does not match expected format:\n  got: %q", line)
	}
}

func TestLineHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLineHandler("svc", slog.LevelWarn, &buf))

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[WARN]") {
		t.Errorf("expected WARN level, got: %s", lines[0])
	}
}

func TestLineHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLineHandler("svc", slog.LevelDebug, &buf))

	logger.Info("timeslot flushed", slog.Int("pid", 42), slog.Uint64("cycles", 1000))

	line := buf.String()
	if !strings.Contains(line, "pid=42") || !strings.Contains(line, "cycles=1000") {
		t.Errorf("expected attrs in output, got: %s", line)
	}
}
