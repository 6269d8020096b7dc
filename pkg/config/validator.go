package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validProvider(p string) bool {
	return p == ProviderOllama || p == ProviderOpenAI
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate LLM config
	if !validProvider(c.LLM.Provider) {
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider %q, expected ollama or openai", c.LLM.Provider),
		})
	}

	if c.LLM.Provider == ProviderOllama && c.LLM.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "Ollama base URL is required",
		})
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid base URL",
			})
		}
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 16384 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 16384",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.Retries() < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_retries",
			Message: "max_retries must not be negative",
		})
	}

	// Validate embedder config
	if !validProvider(c.Embedder.Provider) {
		errors = append(errors, ValidationError{
			Field:   "embedder.provider",
			Message: fmt.Sprintf("unknown provider %q, expected ollama or openai", c.Embedder.Provider),
		})
	}

	if c.Embedder.Dimensions < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.dimensions",
			Message: "dimensions must be positive",
		})
	}

	if c.Embedder.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Embedder.BatchDelayMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.batch_delay_ms",
			Message: "batch_delay_ms must not be negative",
		})
	}

	if c.Embedder.Retries() < 0 {
		errors = append(errors, ValidationError{
			Field:   "embedder.max_retries",
			Message: "max_retries must not be negative",
		})
	}

	// Validate store config
	switch c.Store.Type {
	case StoreMemory:
	case StorePgVector:
		if c.Store.URL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.url",
				Message: "database URL is required for the pgvector store",
			})
		} else if _, err := url.Parse(c.Store.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "store.url",
				Message: "invalid database URL",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.type",
			Message: fmt.Sprintf("unknown store type %q, expected memory or pgvector", c.Store.Type),
		})
	}

	// Validate Processor config
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Processor.MinChunkSize < 0 || c.Processor.MinChunkSize > c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.min_chunk_size",
			Message: "min_chunk_size must be non-negative and at most chunk_size",
		})
	}

	// Validate retrieval config
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be between 1 and 50",
		})
	}

	if t := c.Retrieval.Threshold(); t < -1 || t > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.score_threshold",
			Message: "score_threshold must be between -1 and 1",
		})
	}

	if l := c.Retrieval.Lambda(); l < 0 || l > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.mmr_lambda",
			Message: "mmr_lambda must be between 0 and 1",
		})
	}

	if c.Retrieval.CandidateMultiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.candidate_multiplier",
			Message: "candidate_multiplier must be positive",
		})
	}

	if c.Citations.FallbackCount < 0 {
		errors = append(errors, ValidationError{
			Field:   "citations.fallback_count",
			Message: "fallback_count must not be negative",
		})
	}

	// Validate server config
	if c.Server.MaxUploadMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_mb",
			Message: "max_upload_mb must be positive",
		})
	}

	if c.Server.RequestTimeoutSecs < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.request_timeout_secs",
			Message: "request_timeout_secs must be positive",
		})
	}

	return errors
}
