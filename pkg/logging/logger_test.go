package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected default pretty to be false")
	}
	if cfg.File != nil {
		t.Error("Expected no log file by default")
	}
}

func TestSetup_WritesAtLevel(t *testing.T) {
	tests := []struct {
		level LogLevel
		emit  func(zerolog.Logger)
	}{
		{LevelDebug, func(l zerolog.Logger) { l.Debug().Msg("field queued") }},
		{LevelInfo, func(l zerolog.Logger) { l.Info().Msg("field queued") }},
		{LevelWarn, func(l zerolog.Logger) { l.Warn().Msg("field queued") }},
		{LevelError, func(l zerolog.Logger) { l.Error().Msg("field queued") }},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := Setup(Config{Level: tt.level, Output: buf})

			tt.emit(logger)

			if !strings.Contains(buf.String(), "field queued") {
				t.Errorf("Expected output to contain message, got %q", buf.String())
			}
		})
	}
}

func TestSetup_TeesToFile(t *testing.T) {
	console := &bytes.Buffer{}
	file := &bytes.Buffer{}

	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: console, File: file})
	logger.Info().Str("field_id", "CA_062495").Msg("Successful")

	if !strings.Contains(console.String(), "Successful") {
		t.Errorf("console output missing message: %q", console.String())
	}
	if !strings.Contains(file.String(), `"field_id":"CA_062495"`) {
		t.Errorf("file output should be JSON, got %q", file.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if result := parseLevel(tt.input); result != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("fetch")
	logger.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, `"component":"fetch"`) {
		t.Errorf("Expected output to contain component, got %q", output)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelWarn, Output: buf})

	logger := NewLogger("test")
	logger.Debug().Msg("debug message")
	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")

	output := buf.String()
	if strings.Contains(output, "debug message") || strings.Contains(output, "info message") {
		t.Errorf("messages below warn should be filtered, got %q", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Warn message should be included at Warn level")
	}
}

func TestOpenFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 6, 13, 10, 6, 44, 0, time.UTC)

	f, err := OpenFile(dir, "et-gather", now)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer f.Close()

	want := filepath.Join(dir, "et-gather_2024_06_13_10_06_44.log")
	if f.Name() != want {
		t.Errorf("Name() = %q, want %q", f.Name(), want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}
