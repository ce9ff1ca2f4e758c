package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coderConfig = `{
  "name": "Coder",
  "is_first": false,
  "description": "Writes code",
  "system_prompt": ["You are a coder.", "Be concise."],
  "prompt_template": "Task: {user_input}",
  "allowed_senders": ["Designer", "User"],
  "response_handlers": {
    "report to user": [
      {"target": "User", "session": "clear"}
    ],
    "ask": [
      {"target": "User", "session": "continue"}
    ]
  },
  "tool_api_service": ["workspace"],
  "tools": ["save_file"]
}`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(coderConfig))
	require.NoError(t, err)

	assert.Equal(t, "Coder", cfg.Name)
	assert.False(t, cfg.IsFirst)
	assert.Equal(t, "You are a coder.\nBe concise.", cfg.SystemText())
	assert.Equal(t, []string{"workspace"}, cfg.ToolAPIServices)
	assert.True(t, cfg.ToolAllowed("save_file"))
	assert.False(t, cfg.ToolAllowed("delete_file"))
}

func TestParseRejectsMissingName(t *testing.T) {
	_, err := Parse([]byte(`{"prompt_template": "x"}`))
	assert.Error(t, err)
}

func TestParseRejectsMissingPromptTemplate(t *testing.T) {
	_, err := Parse([]byte(`{"name": "Coder"}`))
	assert.Error(t, err)
}

func TestParseRejectsInvalidSessionAction(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "Coder",
		"prompt_template": "x",
		"response_handlers": {
			"done": [{"target": "User", "session": "pause"}]
		}
	}`))
	assert.Error(t, err)
}

func TestParseRejectsHandlerWithoutTargets(t *testing.T) {
	_, err := Parse([]byte(`{
		"name": "Coder",
		"prompt_template": "x",
		"response_handlers": {"done": []}
	}`))
	assert.Error(t, err)
}

func TestHandlersOrderedLongestFirst(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"name": "Coder",
		"prompt_template": "x",
		"response_handlers": {
			"done": [{"target": "User", "session": "clear"}],
			"done and verified": [{"target": "User", "session": "clear"}],
			"dont": [{"target": "User", "session": "clear"}]
		}
	}`))
	require.NoError(t, err)

	handlers := cfg.Handlers()
	require.Len(t, handlers, 3)
	assert.Equal(t, "done and verified", handlers[0].Instruction)
	// Equal lengths tie-break lexicographically.
	assert.Equal(t, "done", handlers[1].Instruction)
	assert.Equal(t, "dont", handlers[2].Instruction)
}

func TestSenderAllowed(t *testing.T) {
	cfg, err := Parse([]byte(coderConfig))
	require.NoError(t, err)

	assert.True(t, cfg.SenderAllowed("Designer"))
	assert.True(t, cfg.SenderAllowed("User"))
	assert.False(t, cfg.SenderAllowed("Analyst"))
}

func TestEmptyAllowlistAcceptsEveryone(t *testing.T) {
	cfg, err := Parse([]byte(`{"name": "Open", "prompt_template": "x"}`))
	require.NoError(t, err)

	assert.True(t, cfg.SenderAllowed("anyone"))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coder.json")
	require.NoError(t, os.WriteFile(path, []byte(coderConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Coder", cfg.Name)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestDefaultRuntime(t *testing.T) {
	rt := DefaultRuntime()
	assert.Equal(t, 10*time.Minute, rt.SessionTTL)
	assert.Equal(t, 5*time.Minute, rt.SweepInterval)
	assert.Equal(t, 10, rt.MaxToolIterations)
	assert.Equal(t, 30, rt.HistoryLimit)
	assert.Equal(t, 150, rt.HistoryLineLimit)
}

func TestLoadRuntimeFromEnv(t *testing.T) {
	t.Setenv("CODECREW_SESSION_TTL", "30s")
	t.Setenv("CODECREW_MAX_TOOL_ITERATIONS", "3")

	rt, err := LoadRuntime()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, rt.SessionTTL)
	assert.Equal(t, 3, rt.MaxToolIterations)
	// Unset knobs keep their defaults.
	assert.Equal(t, 30, rt.HistoryLimit)
}
