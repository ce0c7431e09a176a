package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8700, cfg.Port)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.CronSpec)
	assert.Equal(t, 0.2, cfg.Memory.MinRetentionScore)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agentId: from-file
port: 9000
llm:
  model: test-model
`), 0o644))

	t.Setenv("SHEEP_AGENT_ID", "from-env")
	t.Setenv("PORT", "9100")
	t.Setenv("SHEEP_LLM_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	// Environment wins over the file.
	assert.Equal(t, "from-env", cfg.AgentID)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestAgentIDFallback(t *testing.T) {
	t.Setenv("SHEEP_AGENT_ID", "")
	t.Setenv("AGENT_ID", "fallback-agent")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "fallback-agent", cfg.AgentID)
}

func TestMalformedYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agentId: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
