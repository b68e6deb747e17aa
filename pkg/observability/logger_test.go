package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLoggerOptions(t *testing.T) {
	tests := []struct {
		name   string
		appEnv string
		level  string
		format string
		want   LoggerOptions
	}{
		{
			name:   "development defaults",
			appEnv: "development",
			want:   LoggerOptions{Level: slog.LevelInfo, Version: "1.0.0"},
		},
		{
			name:   "production logs json with source",
			appEnv: "production",
			want:   LoggerOptions{Level: slog.LevelInfo, JSON: true, AddSource: true, Version: "1.0.0"},
		},
		{
			name:   "format overrides environment",
			appEnv: "production",
			level:  "warn",
			format: "TEXT",
			want:   LoggerOptions{Level: slog.LevelWarn, AddSource: true, Version: "1.0.0"},
		},
		{
			name:   "json in development",
			appEnv: "development",
			level:  "debug",
			format: "json",
			want:   LoggerOptions{Level: slog.LevelDebug, JSON: true, Version: "1.0.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loggerOptions(tt.appEnv, tt.level, tt.format, "1.0.0"))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerFor_Level(t *testing.T) {
	logger := LoggerFor("development", "debug", "text", "1.2.3")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	logger = LoggerFor("production", "", "", "")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewLogger_ServiceAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LoggerOptions{JSON: true, Version: "0.3.0"})

	logger.Info("relay started", "stream", "orders")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "streamrelay", entry["service"])
	assert.Equal(t, "0.3.0", entry["version"])
	assert.Equal(t, "orders", entry["stream"])
	assert.NotContains(t, entry, RunIDKey)
}

func TestNewLogger_RunID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LoggerOptions{JSON: true}).With("stream", "orders")
	ctx := WithRunID(context.Background(), "run-42")

	logger.InfoContext(ctx, "batch delivered")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "run-42", entry[RunIDKey])
	assert.Equal(t, "orders", entry["stream"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LoggerOptions{Level: slog.LevelWarn})

	logger.Info("retrying failed records")
	logger.Warn("giving up on failed records")

	assert.NotContains(t, buf.String(), "retrying failed records")
	assert.Contains(t, buf.String(), "giving up on failed records")
}

func TestRunID(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))

	ctx := WithRunID(context.Background(), "")
	assert.Len(t, RunIDFromContext(ctx), 36)

	same, id := EnsureRunID(ctx)
	assert.Equal(t, RunIDFromContext(ctx), id)
	assert.Equal(t, ctx, same)

	fresh, id := EnsureRunID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, RunIDFromContext(fresh))
}
