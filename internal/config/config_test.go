package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500, cfg.Chunking.MaxSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 20, cfg.Chunking.BatchSize)
	assert.Equal(t, 4, cfg.Chunking.Concurrency)
	assert.Equal(t, 60*time.Second, cfg.Chunking.BatchTimeout.Std())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flc.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[chunking]
max_size = 3000
overlap = 500
batch_timeout = "90s"

[retrieval]
queries = ["kappa", "lambda"]

[qdrant]
host = "qdrant.internal"
`), 0o644))

	t.Setenv("CHUNK_OVERLAP", "250")
	t.Setenv("QDRANT_PORT", "7334")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Chunking.MaxSize)
	assert.Equal(t, 250, cfg.Chunking.Overlap, "environment overrides the file")
	assert.Equal(t, 90*time.Second, cfg.Chunking.BatchTimeout.Std())
	assert.Equal(t, []string{"kappa", "lambda"}, cfg.Retrieval.Queries)
	assert.Equal(t, "qdrant.internal", cfg.Qdrant.Host)
	assert.Equal(t, 7334, cfg.Qdrant.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"AZURE_OPENAI_API_KEY":  "azure-key",
		"OPENAI_API_KEY":        "plain-key",
		"AZURE_OPENAI_ENDPOINT": "https://example.openai.azure.com/",
		"RETRIEVAL_QUERIES":     "kappa, free light chain ,,",
		"BATCH_TIMEOUT":         "2m",
		"SERVER_MODE":           "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "azure-key", cfg.OpenAI.APIKey, "Azure key takes precedence")
	assert.True(t, cfg.UsesAzure())
	assert.Equal(t, []string{"kappa", "free light chain"}, cfg.Retrieval.Queries)
	assert.Equal(t, 2*time.Minute, cfg.Chunking.BatchTimeout.Std())
	assert.True(t, cfg.Server.ServerMode)
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"CHUNK_SIZE":    "large",
		"BATCH_TIMEOUT": "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHUNK_SIZE")
	assert.Contains(t, err.Error(), "BATCH_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxSize }},
		{"overlap exceeds size", func(c *Config) { c.Chunking.Overlap = 600 }},
		{"zero size", func(c *Config) { c.Chunking.MaxSize = 0 }},
		{"zero batch", func(c *Config) { c.Chunking.BatchSize = 0 }},
		{"zero concurrency", func(c *Config) { c.Chunking.Concurrency = 0 }},
		{"unknown backend", func(c *Config) { c.Retrieval.Backend = "faiss" }},
		{"no queries", func(c *Config) { c.Retrieval.Queries = nil }},
		{"no index path", func(c *Config) { c.Index.Path = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestRequireCredentials(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.RequireCredentials(), ErrInvalidConfig)

	cfg.OpenAI.APIKey = "key"
	assert.NoError(t, cfg.RequireCredentials())

	cfg.OpenAI.AzureEndpoint = "https://example.openai.azure.com/"
	cfg.OpenAI.AzureAPIVersion = ""
	assert.ErrorIs(t, cfg.RequireCredentials(), ErrInvalidConfig)
}
