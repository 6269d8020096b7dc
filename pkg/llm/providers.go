package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/pkg/config"
)

// openAIEmbeddings adapts the OpenAI embeddings endpoint to EmbeddingClient.
type openAIEmbeddings struct {
	client     *openai.Client
	model      string
	dimensions int
}

func (o *openAIEmbeddings) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.model != string(openai.AdaEmbeddingV2) {
		req.Dimensions = o.dimensions
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", models.ErrDimensionMismatch, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func newOpenAIClient(apiKey, baseURL string, httpClient *http.Client) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: no OpenAI API key in the environment", models.ErrProviderAuth)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(cfg), nil
}

// NewEmbedderFromConfig builds the provider client named by cfg and wraps it
// in a batching, retrying Embedder.
func NewEmbedderFromConfig(cfg config.EmbedderConfig) (*Embedder, error) {
	var client EmbeddingClient

	switch cfg.Provider {
	case config.ProviderOllama, "":
		emb, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	case config.ProviderOpenAI:
		oc, err := newOpenAIClient(cfg.APIKey(), cfg.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		client = &openAIEmbeddings{client: oc, model: cfg.Model, dimensions: cfg.Dimensions}
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", models.ErrValidation, cfg.Provider)
	}

	return NewEmbedder(client, EmbedderConfig{
		Dimensions: cfg.Dimensions,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay(),
		MaxRetries: cfg.Retries(),
		Timeout:    cfg.Timeout(),
	}), nil
}
