package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Interface compliance (compile-time assertions)
var (
	_ Logger = NoOpLogger{}
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*CrewLogger)(nil)
)

func TestNoOpLogger(t *testing.T) {
	// Must not panic.
	l := NoOpLogger{}
	l.Debug("a")
	l.Info("b", "k", "v")
	l.Warn("c")
	l.Error("d")
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlogAdapter(slog.New(slog.NewTextHandler(&buf, nil)))

	l.Info("agent.started", "agent", "Coder")
	assert.Contains(t, buf.String(), "agent.started")
	assert.Contains(t, buf.String(), "agent=Coder")
}

func TestCrewLoggerContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: slog.LevelDebug, Format: "json", Output: &buf})

	l.WithAgent("Coder").WithSession("User_1_abcd").Info("processing", "message_id", "m1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "processing", entry["msg"])
	assert.Equal(t, "Coder", entry["agent"])
	assert.Equal(t, "User_1_abcd", entry["session_id"])
	assert.Equal(t, "m1", entry["message_id"])
}

func TestCrewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: slog.LevelWarn, Format: "text", Output: &buf})

	l.Info("hidden")
	l.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
}

func TestLogToolCall(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: slog.LevelInfo, Format: "json", Output: &buf}).WithAgent("Coder")

	l.LogToolCall("save_file", 12*time.Millisecond, true, nil)
	l.LogToolCall("save_file", 3*time.Millisecond, false, errors.New("disk full"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "tool execution completed")
	assert.Contains(t, lines[1], "tool execution failed")
	assert.Contains(t, lines[1], "disk full")
}

func TestLogCompletionCall(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: slog.LevelInfo, Format: "json", Output: &buf})

	l.LogCompletionCall(40*time.Millisecond, false, errors.New("timeout"))
	assert.Contains(t, buf.String(), "completion call failed")
	assert.Contains(t, buf.String(), "timeout")
}

func TestNewWithNilConfigUsesDefaults(t *testing.T) {
	l := New(nil)
	require.NotNil(t, l)
	l.Info("defaults are fine")
}
