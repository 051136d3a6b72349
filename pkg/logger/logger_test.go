package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
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
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo}, // default
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo}, // fallback to default
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, writer interface{})
	}{
		{
			name:   "stdout output",
			config: Config{Output: "stdout"},
			check: func(t *testing.T, writer interface{}) {
				assert.Same(t, os.Stdout, writer)
			},
		},
		{
			name:   "stderr output",
			config: Config{Output: "stderr"},
			check: func(t *testing.T, writer interface{}) {
				assert.Same(t, os.Stderr, writer)
			},
		},
		{
			name:   "default output",
			config: Config{Output: ""},
			check: func(t *testing.T, writer interface{}) {
				assert.Same(t, os.Stdout, writer)
			},
		},
		{
			name:   "file output without filename falls back to stdout",
			config: Config{Output: "file"},
			check: func(t *testing.T, writer interface{}) {
				assert.Same(t, os.Stdout, writer)
			},
		},
		{
			name: "file output with filename uses lumberjack",
			config: Config{
				Output:     "file",
				Filename:   filepath.Join(t.TempDir(), "tuner.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
				Compress:   true,
			},
			check: func(t *testing.T, writer interface{}) {
				rotator, ok := writer.(*lumberjack.Logger)
				if assert.True(t, ok, "expected a *lumberjack.Logger") {
					assert.Equal(t, 10, rotator.MaxSize)
					assert.Equal(t, 3, rotator.MaxBackups)
					assert.Equal(t, 7, rotator.MaxAge)
					assert.True(t, rotator.Compress)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer := SetupWriter(tt.config)
			tt.check(t, writer)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	logger := NewLogger(cfg)
	assert.NotNil(t, logger)
	logger.Info("test message", "key", "value")
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger := NewLogger(Config{Level: "debug", Format: "text", Output: "stdout"})
	assert.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelDebug))
}
