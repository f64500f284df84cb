package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Production_JSONHandler(t *testing.T) {
	logger := NewLogger("production", "")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.JSONHandler)
	assert.True(t, ok, "production logger should use JSONHandler, got %T", handler)
}

func TestNewLogger_Development_TextHandler(t *testing.T) {
	logger := NewLogger("development", "")
	require.NotNil(t, logger)

	handler := logger.Handler()
	_, ok := handler.(*slog.TextHandler)
	assert.True(t, ok, "development logger should use TextHandler, got %T", handler)
}

func TestNewLogger_UnknownEnv_TextHandler(t *testing.T) {
	logger := NewLogger("staging", "")

	_, ok := logger.Handler().(*slog.TextHandler)
	assert.True(t, ok)
}

func TestNewLogger_Production_InfoLevel(t *testing.T) {
	logger := NewLogger("production", "")
	ctx := context.Background()
	assert.True(t, logger.Handler().Enabled(ctx, slog.LevelInfo))
	assert.False(t, logger.Handler().Enabled(ctx, slog.LevelDebug))
}

func TestNewLogger_Development_DebugLevel(t *testing.T) {
	logger := NewLogger("development", "")
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_ExplicitLevelOverrides(t *testing.T) {
	ctx := context.Background()

	prod := NewLogger("production", "debug")
	assert.True(t, prod.Handler().Enabled(ctx, slog.LevelDebug))

	dev := NewLogger("development", "warn")
	assert.False(t, dev.Handler().Enabled(ctx, slog.LevelInfo))
	assert.True(t, dev.Handler().Enabled(ctx, slog.LevelWarn))
}

func TestNewLogger_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "info")
	logger.Info("client created", slog.String("client_id", "c1"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "client created", line["msg"])
	assert.Equal(t, "c1", line["client_id"])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "Error"} {
		assert.True(t, ValidLevel(s), s)
	}
	for _, s := range []string{"", "trace", "warning"} {
		assert.False(t, ValidLevel(s), s)
	}
}
