package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{
			name:   "debug level",
			config: &Config{Level: LevelDebug, Output: &bytes.Buffer{}},
		},
		{
			name:   "error level",
			config: &Config{Level: LevelError, Output: &bytes.Buffer{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Error("NewLogger() returned nil")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no output below level threshold, got: %s", buf.String())
	}

	logger.Warn("visible warning")
	if !strings.Contains(buf.String(), "visible warning") {
		t.Errorf("expected warning in output, got: %s", buf.String())
	}
}

func TestLoggerArgsFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("reader started", "mdt", "lustre-MDT0000", "batch", 64)
	output := buf.String()
	if !strings.Contains(output, "mdt=lustre-MDT0000") {
		t.Errorf("expected mdt=lustre-MDT0000 in output, got: %s", output)
	}
	if !strings.Contains(output, "batch=64") {
		t.Errorf("expected batch=64 in output, got: %s", output)
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		count int
		want  LogLevel
	}{
		{0, LevelWarn},
		{1, LevelInfo},
		{2, LevelDebug},
		{10, LevelDebug},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.count); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d) = %v, want %v", tt.count, got, tt.want)
		}
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug message, got: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected key=value, got: %s", buf.String())
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
