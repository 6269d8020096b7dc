package types

import (
	"context"

	"github.com/xhad/docqa/internal/models"
)

// Core interfaces

// VectorStore is the similarity index capability. Implementations hold one
// snapshot of (chunk, vector) pairs per document id.
type VectorStore interface {
	Upsert(ctx context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error
	Query(ctx context.Context, docID string, query []float32, topK int, scoreThreshold float64) (models.RetrievalResult, error)
	QueryWithMMR(ctx context.Context, docID string, query []float32, opts MMROptions) (models.RetrievalResult, error)
	HasDoc(ctx context.Context, docID string) (bool, error)
	DeleteDoc(ctx context.Context, docID string) (bool, error)
	Close()
}

// MMROptions parameterises a diversity-aware query.
type MMROptions struct {
	TopK                int
	Lambda              float64
	CandidateMultiplier int
	ScoreThreshold      float64
}

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Generator streams an answer for a prompt. The returned channel yields
// text deltas in order and ends with one Done or Err delta.
type Generator interface {
	GenerateStream(ctx context.Context, system, prompt string) (<-chan models.Delta, error)
}

// Extractor turns uploaded bytes into page-numbered text.
type Extractor interface {
	Extract(data []byte) ([]models.PageText, error)
}
