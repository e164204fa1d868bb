package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/policy-debate/internal/debate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ProviderOffline, cfg.LLM.Provider)
	assert.Equal(t, "", cfg.Store.URL)
	assert.Equal(t, debate.DefaultMaxRoundsPerTopic, cfg.Debate.MaxRoundsPerTopic)
	assert.Equal(t, debate.DefaultGenerationTimeout, cfg.Debate.GenerationTimeout)
	assert.Equal(t, debate.ControlFirstWriter, cfg.Debate.ControlPolicy)
	assert.Equal(t, 256, cfg.Server.BufferSize)
}

func TestLoadFileYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debate.yaml")
	yaml := `
server:
  addr: ":9090"
llm:
  provider: Ollama
  model: mistral
debate:
  max_rounds_per_topic: 3
  generation_timeout: 45s
  control_policy: open
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("DEBATE_SERVER_ADDR", ":7070")
	t.Setenv("SURREALDB_URL", "ws://db:8000/rpc")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env wins over file")
	assert.Equal(t, "ws://db:8000/rpc", cfg.Store.URL)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Debate.MaxRoundsPerTopic)
	assert.Equal(t, 45*time.Second, cfg.Debate.GenerationTimeout)
	assert.Equal(t, debate.ControlOpen, cfg.Debate.ControlPolicy)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown provider", map[string]string{"LLM_PROVIDER": "telepathy"}},
		{"zero rounds", map[string]string{"DEBATE_DEBATE_MAX_ROUNDS_PER_TOPIC": "0"}},
		{"unknown control policy", map[string]string{"DEBATE_DEBATE_CONTROL_POLICY": "anyone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFile("")
			assert.ErrorIs(t, err, debate.ErrConfiguration)
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLoggerFansOut(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewLogger(&console, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("session created", "session_id", "abc")

	assert.Contains(t, console.String(), "session created")
	assert.NotContains(t, console.String(), "hidden")

	var record map[string]any
	require.NoError(t, json.Unmarshal(file.Bytes(), &record))
	assert.Equal(t, "session created", record["msg"])
	assert.Equal(t, "abc", record["session_id"])
}
