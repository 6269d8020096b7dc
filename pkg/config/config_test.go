package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"OLLAMA_BASE_URL", "DATABASE_URL", "DOCQA_STORE", "PORT", "DOCQA_LLM_PROVIDER"} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)

	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedder:
  dimensions: 1024
  batch_size: 8

store:
  type: pgvector
  url: "postgres://localhost:5432/test"
  table_name: "test_chunks"

processor:
  chunk_size: 500
  chunk_overlap: 100
  min_chunk_size: 50

retrieval:
  top_k: 4
  use_mmr: false

citations:
  disable_fallback: true
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, config.LLM.Provider)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "http://localhost:11434", config.Embedder.BaseURL)
	assert.Equal(t, "nomic-embed-text", config.Embedder.Model)
	assert.Equal(t, 1024, config.Embedder.Dimensions)
	assert.Equal(t, 8, config.Embedder.BatchSize)
	assert.Equal(t, StorePgVector, config.Store.Type)
	assert.Equal(t, "test_chunks", config.Store.TableName)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 50, config.Processor.MinChunkSize)
	assert.Equal(t, 4, config.Retrieval.TopK)
	assert.False(t, config.Retrieval.MMREnabled())
	assert.True(t, config.Citations.DisableFallback)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, ProviderOllama, config.LLM.Provider)
	assert.Equal(t, "mistral", config.LLM.Model)
	assert.Equal(t, StoreMemory, config.Store.Type)
	assert.Equal(t, 1200, config.Processor.ChunkSize)
	assert.Equal(t, 180, config.Processor.ChunkOverlap)
	assert.Equal(t, 100, config.Processor.MinChunkSize)
	assert.Equal(t, 8, config.Retrieval.TopK)
	assert.Equal(t, 0.2, config.Retrieval.Threshold())
	assert.True(t, config.Retrieval.MMREnabled())
	assert.Equal(t, 0.5, config.Retrieval.Lambda())
	assert.Equal(t, 3, config.Embedder.Retries())
	assert.Equal(t, 3, config.LLM.Retries())
	assert.Equal(t, 3, config.Retrieval.CandidateMultiplier)
	assert.Equal(t, 3, config.Citations.FallbackCount)
	assert.Equal(t, 16, config.Embedder.BatchSize)
	assert.Equal(t, 768, config.Embedder.Dimensions)
	assert.Equal(t, int64(20<<20), config.Server.MaxUploadBytes())
	assert.Empty(t, config.Validate())
}

func TestOpenAIDefaults(t *testing.T) {
	config := &Config{LLM: LLMConfig{Provider: ProviderOpenAI}}
	applyDefaults(config)

	assert.Equal(t, "gpt-4o-mini", config.LLM.Model)
	assert.Empty(t, config.LLM.BaseURL)
	assert.Equal(t, ProviderOpenAI, config.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-small", config.Embedder.Model)
	assert.Equal(t, 1536, config.Embedder.Dimensions)
	assert.Equal(t, "OPENAI_API_KEY", config.Embedder.APIKeyEnv)
	assert.Empty(t, config.Validate())
}

func TestLoadConfig_ExplicitZeros(t *testing.T) {
	clearEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configData := `
llm:
  max_retries: 0

embedder:
  max_retries: 0

retrieval:
  mmr_lambda: 0
  score_threshold: 0
`
	require.NoError(t, os.WriteFile(configPath, []byte(configData), 0644))

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, 0.0, config.Retrieval.Lambda())
	assert.Equal(t, 0.0, config.Retrieval.Threshold())
	assert.Equal(t, 0, config.Embedder.Retries())
	assert.Equal(t, 0, config.LLM.Retries())
	assert.Empty(t, config.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*Config)
		expectedErrs  int
		errorMessages []string
	}{
		{
			name:         "valid config",
			mutate:       func(*Config) {},
			expectedErrs: 0,
		},
		{
			name: "invalid llm",
			mutate: func(c *Config) {
				c.LLM.Provider = "bedrock"
				c.LLM.MaxTokens = 50000
				c.LLM.Temperature = 3.0
			},
			expectedErrs: 3,
			errorMessages: []string{
				"llm.provider: unknown provider",
				"max_tokens: max_tokens must be between 1 and 16384",
				"temperature: temperature must be between 0 and 2",
			},
		},
		{
			name: "pgvector without url",
			mutate: func(c *Config) {
				c.Store.Type = StorePgVector
			},
			expectedErrs:  1,
			errorMessages: []string{"store.url: database URL is required"},
		},
		{
			name: "chunking and retrieval",
			mutate: func(c *Config) {
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
				lambda := 1.5
				c.Retrieval.MMRLambda = &lambda
				c.Retrieval.TopK = 100
			},
			expectedErrs: 3,
			errorMessages: []string{
				"processor.chunk_overlap",
				"retrieval.top_k",
				"retrieval.mmr_lambda",
			},
		},
		{
			name: "unknown store",
			mutate: func(c *Config) {
				c.Store.Type = "qdrant"
			},
			expectedErrs:  1,
			errorMessages: []string{"unknown store type"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			errors := config.Validate()
			assert.Len(t, errors, tt.expectedErrs)

			for i, msg := range tt.errorMessages {
				if i < len(errors) {
					assert.Contains(t, errors[i].Error(), msg)
				}
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("DOCQA_STORE", "PGVECTOR")
	t.Setenv("PORT", "9090")
	t.Setenv("DOCQA_LLM_PROVIDER", "")

	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedder.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Store.URL)
	assert.Equal(t, StorePgVector, config.Store.Type)
	assert.Equal(t, ":9090", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
