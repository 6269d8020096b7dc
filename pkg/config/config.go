package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	TimeoutSecs int     `yaml:"timeout_secs"`
	MaxRetries  *int    `yaml:"max_retries"`
}

type EmbedderConfig struct {
	Provider     string `yaml:"provider"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Dimensions   int    `yaml:"dimensions"`
	BatchSize    int    `yaml:"batch_size"`
	BatchDelayMS int    `yaml:"batch_delay_ms"`
	MaxRetries   *int   `yaml:"max_retries"`
	APIKeyEnv    string `yaml:"api_key_env"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
}

type StoreConfig struct {
	Type      string `yaml:"type"`
	URL       string `yaml:"url"`
	TableName string `yaml:"table_name"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	MinChunkSize int `yaml:"min_chunk_size"`
}

type RetrievalConfig struct {
	TopK                int     `yaml:"top_k"`
	ScoreThreshold      *float64 `yaml:"score_threshold"`
	UseMMR              *bool    `yaml:"use_mmr"`
	MMRLambda           *float64 `yaml:"mmr_lambda"`
	CandidateMultiplier int      `yaml:"candidate_multiplier"`
	Rerank              bool     `yaml:"rerank"`
}

const (
	defaultScoreThreshold = 0.2
	defaultMMRLambda      = 0.5
	defaultMaxRetries     = 3
)

// MMREnabled reports whether diversity-aware retrieval is on. Unset means on.
func (r RetrievalConfig) MMREnabled() bool {
	return r.UseMMR == nil || *r.UseMMR
}

// Threshold returns the minimum similarity a chunk needs. Zero is a valid
// setting and means no threshold.
func (r RetrievalConfig) Threshold() float64 {
	if r.ScoreThreshold == nil {
		return defaultScoreThreshold
	}
	return *r.ScoreThreshold
}

// Lambda returns the MMR relevance weight; 0 is maximum diversity.
func (r RetrievalConfig) Lambda() float64 {
	if r.MMRLambda == nil {
		return defaultMMRLambda
	}
	return *r.MMRLambda
}

type CitationsConfig struct {
	FallbackCount   int  `yaml:"fallback_count"`
	DisableFallback bool `yaml:"disable_fallback"`
}

type ServerConfig struct {
	Addr               string   `yaml:"addr"`
	MaxUploadMB        int      `yaml:"max_upload_mb"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Verbose bool `yaml:"verbose"`
}

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Store     StoreConfig     `yaml:"store"`
	Processor ProcessorConfig `yaml:"processor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Citations CitationsConfig `yaml:"citations"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	StoreMemory   = "memory"
	StorePgVector = "pgvector"
)

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docqa/config.yaml"),
			"/etc/docqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

// Default returns a configuration with every default applied and no
// environment overrides.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = ProviderOllama
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == ProviderOpenAI {
			config.LLM.Model = "gpt-4o-mini"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == ProviderOllama {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.APIKeyEnv == "" {
		config.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if config.LLM.TimeoutSecs == 0 {
		config.LLM.TimeoutSecs = 120
	}
	if config.LLM.MaxRetries == nil {
		retries := defaultMaxRetries
		config.LLM.MaxRetries = &retries
	}

	if config.Embedder.Provider == "" {
		config.Embedder.Provider = config.LLM.Provider
	}
	if config.Embedder.Model == "" {
		if config.Embedder.Provider == ProviderOpenAI {
			config.Embedder.Model = "text-embedding-3-small"
		} else {
			config.Embedder.Model = "nomic-embed-text"
		}
	}
	if config.Embedder.BaseURL == "" && config.Embedder.Provider == config.LLM.Provider {
		config.Embedder.BaseURL = config.LLM.BaseURL
	}
	if config.Embedder.Dimensions == 0 {
		if config.Embedder.Provider == ProviderOpenAI {
			config.Embedder.Dimensions = 1536
		} else {
			config.Embedder.Dimensions = 768
		}
	}
	if config.Embedder.BatchSize == 0 {
		config.Embedder.BatchSize = 16
	}
	if config.Embedder.BatchDelayMS == 0 {
		config.Embedder.BatchDelayMS = 200
	}
	if config.Embedder.MaxRetries == nil {
		retries := defaultMaxRetries
		config.Embedder.MaxRetries = &retries
	}
	if config.Embedder.APIKeyEnv == "" {
		config.Embedder.APIKeyEnv = config.LLM.APIKeyEnv
	}
	if config.Embedder.TimeoutSecs == 0 {
		config.Embedder.TimeoutSecs = 60
	}

	if config.Store.Type == "" {
		config.Store.Type = StoreMemory
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "chunks"
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1200
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 180
	}
	if config.Processor.MinChunkSize == 0 {
		config.Processor.MinChunkSize = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 8
	}
	if config.Retrieval.ScoreThreshold == nil {
		threshold := defaultScoreThreshold
		config.Retrieval.ScoreThreshold = &threshold
	}
	if config.Retrieval.UseMMR == nil {
		enabled := true
		config.Retrieval.UseMMR = &enabled
	}
	if config.Retrieval.MMRLambda == nil {
		lambda := defaultMMRLambda
		config.Retrieval.MMRLambda = &lambda
	}
	if config.Retrieval.CandidateMultiplier == 0 {
		config.Retrieval.CandidateMultiplier = 3
	}

	if config.Citations.FallbackCount == 0 {
		config.Citations.FallbackCount = 3
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 20
	}
	if config.Server.RequestTimeoutSecs == 0 {
		config.Server.RequestTimeoutSecs = 180
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"*"}
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("DOCQA_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = strings.ToLower(provider)
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		if config.LLM.Provider == "" || config.LLM.Provider == ProviderOllama {
			config.LLM.BaseURL = baseURL
		}
		if config.Embedder.Provider == "" || config.Embedder.Provider == ProviderOllama {
			config.Embedder.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.URL = dbURL
	}
	if storeType := os.Getenv("DOCQA_STORE"); storeType != "" {
		config.Store.Type = strings.ToLower(storeType)
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
}

// APIKey resolves the provider key from the environment variable the
// configuration names.
func (c *LLMConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

func (c *EmbedderConfig) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// Retries returns how many times a transient provider failure is retried.
// Zero disables retries.
func (c *EmbedderConfig) Retries() int {
	if c.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.MaxRetries
}

func (c *EmbedderConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

func (c *EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Retries returns how many times opening a generation stream is retried.
func (c *LLMConfig) Retries() int {
	if c.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.MaxRetries
}

func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

func (c *ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}
