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

func TestNewID(t *testing.T) {
	ids := make(map[string]struct{}, 100)
	for range 100 {
		id := NewID()
		assert.Len(t, id, 8)
		ids[id] = struct{}{}
	}
	assert.Len(t, ids, 100)
}

func TestID(t *testing.T) {
	id, ok := ID(context.Background())
	assert.False(t, ok)
	assert.Empty(t, id)

	_, ok = ID(WithID(context.Background(), ""))
	assert.False(t, ok)

	id, ok = ID(WithID(context.Background(), "run-0001"))
	assert.True(t, ok)
	assert.Equal(t, "run-0001", id)
}

func TestNew_TextAddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "text")

	logger.DebugContext(WithID(context.Background(), "abcd1234"), "vote cast", "item_id", "post")
	out := buf.String()
	assert.Contains(t, out, "correlation_id=abcd1234")
	assert.Contains(t, out, "item_id=post")

	buf.Reset()
	logger.Info("no id")
	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestNew_JSONWithAttrsKeepsCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json").With("component", "fraud")

	logger.InfoContext(WithID(context.Background(), "ffff0000"), "run finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ffff0000", entry["correlation_id"])
	assert.Equal(t, "fraud", entry["component"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "text")

	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
