package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"trace", logrus.TraceLevel},
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"invalid", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.level))
		})
	}
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "gps")

	logger.Info("provider_started", "method", "gps", "error", errors.New("boom"))
	logger.Debug("with_map", map[string]interface{}{"count": 3})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "provider_started", entries[0]["msg"])
	assert.Equal(t, "gps", entries[0]["component"])
	assert.Equal(t, "gps", entries[0]["method"])
	assert.Equal(t, "boom", entries[0]["error"])
	assert.Equal(t, float64(3), entries[1]["count"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "test")

	logger.Info("dropped")
	logger.Warn("kept")
	assert.Len(t, decodeLines(t, &buf), 1)

	buf.Reset()
	logger.SetLevel("trace")
	logger.LogVerbose("verbose_event", map[string]interface{}{"a": 1})
	assert.Len(t, decodeLines(t, &buf), 1)
	assert.Equal(t, "trace", logger.Level())
}

func TestLogStateChange(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "hybrid")

	logger.LogStateChange("hybrid", "gps", "sps", "sps_enabled", map[string]interface{}{"x": "y"})

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "state_change", entries[0]["msg"])
	assert.Equal(t, "gps", entries[0]["from"])
	assert.Equal(t, "sps", entries[0]["to"])
	assert.Equal(t, "y", entries[0]["x"])
}

func TestWithComponentSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWithWriter(&buf, "info", "parent")
	child := parent.WithComponent("child").With("owner", "abc")

	parent.SetLevel("error")
	child.Info("dropped")
	child.Error("kept")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "child", entries[0]["component"])
	assert.Equal(t, "abc", entries[0]["owner"])
}
