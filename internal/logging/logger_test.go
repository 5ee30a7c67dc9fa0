package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"invalid", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.name))
		})
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{level: "trace", logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", logged: []string{"debug message", "info message"}, dropped: []string{"trace message"}},
		{level: "info", logged: []string{"info message"}, dropped: []string{"trace message", "debug message"}},
		{level: "invalid", logged: []string{"info message"}, dropped: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")

			out := buf.String()
			for _, msg := range tt.logged {
				assert.Contains(t, out, msg)
			}
			for _, msg := range tt.dropped {
				assert.NotContains(t, out, msg)
			}
		})
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "poller")
	logger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "poller", entry["component"])
	assert.Equal(t, "hello", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})
	logger.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestNew_DefaultOutput(t *testing.T) {
	logger := New(Config{Level: "info"})
	assert.NotPanics(t, func() { logger.Debug().Msg("test message") })
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.NotNil(t, cfg.Output)
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}
