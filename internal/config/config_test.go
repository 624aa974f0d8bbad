package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "noteai_chunks", cfg.Qdrant.Collection)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 0.9, cfg.Ingest.SuccessThreshold)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, "vi", cfg.Language.Fallback)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noteai.yaml")
	yamlDoc := `
qdrant:
  host: qdrant.internal
  port: 7000
ingest:
  chunk_size: 800
  fetch_timeout: 5s
retrieval:
  top_k: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("QDRANT_PORT", "7100")
	t.Setenv("INGEST_SUCCESS_THRESHOLD", "1.0")
	t.Setenv("MOCK_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host, "yaml overrides defaults")
	assert.Equal(t, 7100, cfg.Qdrant.Port, "env overrides yaml")
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 5*time.Second, cfg.Ingest.FetchTimeout)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, 1.0, cfg.Ingest.SuccessThreshold)
	assert.True(t, cfg.MockMode)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap not below size", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }},
		{"zero threshold", func(c *Config) { c.Ingest.SuccessThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.Ingest.SuccessThreshold = 1.5 }},
		{"no workers", func(c *Config) { c.Ingest.Workers = 0 }},
		{"bad backend", func(c *Config) { c.Qdrant.Backend = "pinecone" }},
		{"bad provider", func(c *Config) { c.Generation.Provider = "bard" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
