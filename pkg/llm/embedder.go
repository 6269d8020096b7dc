package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

// EmbeddingClient is the provider call behind an Embedder. *ollama.LLM
// satisfies it directly.
type EmbeddingClient interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderConfig represents the configuration for an Embedder.
type EmbedderConfig struct {
	Dimensions int
	BatchSize  int
	BatchDelay time.Duration
	MaxRetries int
	RetryBase  time.Duration
	Timeout    time.Duration
}

// ProgressFunc is called after each embedded batch with the number of texts
// done so far and the total.
type ProgressFunc func(done, total int)

// Embedder embeds text in rate-limited batches with bounded retries. A batch
// either yields one vector of the configured dimension per text or fails.
type Embedder struct {
	config  EmbedderConfig
	client  EmbeddingClient
	limiter *rate.Limiter
}

var _ types.Embedder = (*Embedder)(nil)

func NewEmbedder(client EmbeddingClient, config EmbedderConfig) *Embedder {
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBase <= 0 {
		config.RetryBase = defaultRetryBase
	}

	limit := rate.Inf
	if config.BatchDelay > 0 {
		limit = rate.Every(config.BatchDelay)
	}

	return &Embedder{
		config:  config,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Dimensions returns the configured vector length, or 0 when unchecked.
func (e *Embedder) Dimensions() int {
	return e.config.Dimensions
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedBatchWithProgress(ctx, texts, nil)
}

// EmbedBatchWithProgress is EmbedBatch with a per-batch progress callback.
func (e *Embedder) EmbedBatchWithProgress(ctx context.Context, texts []string, onBatch ProgressFunc) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch, err := e.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)

		logger.Debug("embedded %d/%d texts", end, len(texts))
		if onBatch != nil {
			onBatch(end, len(texts))
		}
	}

	return vectors, nil
}

func (e *Embedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(e.config.RetryBase, attempt-1)
			logger.Warn("embedding attempt %d failed, retrying in %s: %v", attempt, delay, lastErr)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, err
			}
		}

		vectors, err := e.embedOnce(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if !errors.Is(err, models.ErrProviderTransient) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

func (e *Embedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	vectors, err := e.client.CreateEmbedding(callCtx, texts)
	if err != nil {
		// A per-call timeout is retryable; the caller's own deadline is not.
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", models.ErrProviderTransient, err)
		}
		return nil, classifyError(err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			models.ErrDimensionMismatch, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if e.config.Dimensions > 0 && len(v) != e.config.Dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				models.ErrDimensionMismatch, i, len(v), e.config.Dimensions)
		}
	}
	return vectors, nil
}
