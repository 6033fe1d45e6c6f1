package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestInit_JSON(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "info", "json")
	t.Cleanup(func() { current.Store(nil) })

	Debug("hidden")
	Info("sync finished", "kind", "task", "embedded", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1, "debug must be filtered at info level")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "sync finished", rec["msg"])
	assert.Equal(t, "task", rec["kind"])
	assert.Equal(t, float64(3), rec["embedded"])
}

func TestInit_Text(t *testing.T) {
	var buf bytes.Buffer
	Init(&buf, "warn", "text")
	t.Cleanup(func() { current.Store(nil) })

	Info("hidden")
	Warn("breaker open", "provider", "mock")
	Error("write failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "provider=mock")
	assert.Contains(t, out, "write failed")
}

func TestHelpers_NoLogger(t *testing.T) {
	current.Store(nil)

	assert.NotPanics(t, func() {
		Info("x")
		Warn("x")
		Error("x")
		Debug("x")
		With("k", "v").Info("x")
	})
	assert.Nil(t, Get())
}
