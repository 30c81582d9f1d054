package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3:8b"
  max_tokens: 512
  temperature: 0.2

embedding:
  backend: "hugot"
  model_dir: "/tmp/models"

store:
  dir: "/var/lib/cyberrag"
  allow_degraded_load: true

database:
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"

loader:
  raw_data_dir: "corpus"

processor:
  chunk_size: 500
  chunk_overlap: 50

pipeline:
  top_k: 5
  max_history: 4

ui:
  streaming: false
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3:8b", config.LLM.Model)
	assert.Equal(t, 512, config.LLM.MaxTokens)
	assert.Equal(t, 0.2, config.LLM.Temperature)
	assert.Equal(t, BackendHugot, config.Embedding.Backend)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", config.Embedding.Model)
	assert.Equal(t, BackendFlat, config.Store.Backend)
	assert.True(t, config.Store.AllowDegradedLoad)
	assert.Equal(t, filepath.Join("/var/lib/cyberrag", "index.gob"), config.IndexPath())
	assert.Equal(t, filepath.Join("/var/lib/cyberrag", "chunks.gob"), config.MetadataPath())
	assert.Equal(t, "test_chunks", config.Database.TableName)
	assert.Equal(t, "corpus", config.Loader.RawDataDir)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 50, config.Processor.ChunkOverlap)
	assert.Equal(t, 5, config.Pipeline.TopK)
	assert.Equal(t, 4, config.Pipeline.MaxHistory)
	assert.False(t, config.UI.Streaming)
	assert.Empty(t, config.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, "qwen:0.5b", config.LLM.Model)
	assert.Equal(t, BackendOllama, config.Embedding.Backend)
	assert.Equal(t, config.LLM.BaseURL, config.Embedding.BaseURL)
	assert.Equal(t, filepath.Join("data", "raw"), config.Loader.RawDataDir)
	assert.Equal(t, 1000, config.Processor.ChunkSize)
	assert.Equal(t, 150, config.Processor.ChunkOverlap)
	assert.Equal(t, 3, config.Pipeline.TopK)
	assert.Equal(t, 6, config.Pipeline.MaxHistory)
	assert.True(t, config.UI.Streaming)
	assert.False(t, config.Store.AllowDegradedLoad)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		fields []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "bad llm settings",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 3.0
			},
			fields: []string{"llm.base_url", "llm.max_tokens", "llm.temperature"},
		},
		{
			name: "pgvector without database url",
			mutate: func(c *Config) {
				c.Store.Backend = BackendPGVector
				c.Database.URL = ""
			},
			fields: []string{"database.url"},
		},
		{
			name: "openai without key",
			mutate: func(c *Config) {
				c.Embedding.Backend = BackendOpenAI
				c.Embedding.APIKey = ""
			},
			fields: []string{"embedding.api_key"},
		},
		{
			name: "unknown backends",
			mutate: func(c *Config) {
				c.Embedding.Backend = "word2vec"
				c.Store.Backend = "faiss"
			},
			fields: []string{"embedding.backend", "store.backend"},
		},
		{
			name: "overlap not smaller than chunk size",
			mutate: func(c *Config) {
				c.Processor.ChunkSize = 100
				c.Processor.ChunkOverlap = 100
			},
			fields: []string{"processor.chunk_overlap"},
		},
		{
			name: "same artifact file",
			mutate: func(c *Config) {
				c.Store.MetadataFile = c.Store.IndexFile
			},
			fields: []string{"store.metadata_file"},
		},
		{
			name: "bad extensions and pipeline bounds",
			mutate: func(c *Config) {
				c.Loader.Extensions = []string{"md"}
				c.Pipeline.TopK = 0
				c.Pipeline.MaxHistory = -1
			},
			fields: []string{"loader.extensions", "pipeline.top_k", "pipeline.max_history"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "")
			t.Setenv("DATABASE_URL", "")
			config := Default()
			tt.mutate(config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.fields))
			for i, field := range tt.fields {
				assert.Equal(t, field, errors[i].Field)
				assert.Contains(t, errors[i].Error(), field)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CYBERRAG_LLM_MODEL", "mistral")
	t.Setenv("CYBERRAG_LOG_LEVEL", "debug")

	config := &Config{}
	mergeWithEnv(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Database.URL)
	assert.Equal(t, "sk-test", config.Embedding.APIKey)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, "debug", config.Log.Level)
}
