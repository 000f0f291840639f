package obslog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelDebug, Output: &buf, JSON: true})
	comp := l.WithComponent("sampler")
	comp.Info("mark decision", "qfi", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sampler", rec["component"])
	assert.Equal(t, "mark decision", rec["msg"])
	assert.Equal(t, float64(3), rec["qfi"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelWarn, Output: &buf})
	l.Info("should not appear")
	assert.Empty(t, buf.Bytes())

	l.Warn("should appear")
	assert.NotEmpty(t, buf.Bytes())
}

func TestDiscardDropsEverything(t *testing.T) {
	l := Discard()
	l.Error("whatever")
	assert.False(t, l.Enabled(nil, slog.LevelError-1000))
}

func TestWithAddsPersistentFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: slog.LevelInfo, Output: &buf, JSON: true})
	scoped := l.With("drb_id", 7)
	scoped.Info("queued")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, float64(7), rec["drb_id"])
}
