package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "quotefill.db", cfg.Store.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "schemas", cfg.Schemas.Dir)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.Equal(t, 3, cfg.Anthropic.RetryAttempts)
	assert.Equal(t, 60*time.Second, cfg.Anthropic.RequestTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Anthropic.BatchPollTimeout)
	assert.Equal(t, "jina-embeddings-v3", cfg.Jina.Model)
	assert.Equal(t, 4, cfg.Extraction.Concurrency)
	assert.Equal(t, 40, cfg.Extraction.Partition.MaxFields)
	assert.True(t, cfg.Extraction.Verify.Enabled)
	assert.True(t, cfg.Extraction.Verify.FlipUnsupportedYes)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.InDelta(t, 0.3, cfg.Retrieval.MinSimilarity, 0.001)
	assert.InDelta(t, 0.7, cfg.Retrieval.SimWeight, 0.001)
	assert.True(t, cfg.Feedback.AutoLearn)
	assert.InDelta(t, 0.75, cfg.Feedback.MinAutoLearnConfidence, 0.001)
	assert.Equal(t, int64(5), cfg.Curation.MinUsage)
	assert.InDelta(t, 0.4, cfg.Curation.MinSuccessRate, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/quotefill
anthropic:
  key: sk-test
  model: claude-haiku-4-5-20251001
log:
  level: debug
  format: console
server:
  port: 9090
extraction:
  partition:
    max_fields: 20
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/quotefill", cfg.Store.DatabaseURL)
	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Extraction.Partition.MaxFields)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Retrieval.K)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0644))

	t.Setenv("QUOTEFILL_STORE_DRIVER", "postgres")
	t.Setenv("QUOTEFILL_LOG_LEVEL", "warn")
	t.Setenv("QUOTEFILL_ANTHROPIC_KEY", "sk-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "sk-env", cfg.Anthropic.Key)
}

func TestLoadBadYAML(t *testing.T) {
	chtemp(t)

	require.NoError(t, os.WriteFile("config.yaml", []byte("store: ["), 0644))

	_, err := Load()
	require.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))

	require.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
