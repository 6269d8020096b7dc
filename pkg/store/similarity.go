package store

import (
	"fmt"
	"math"
	"sort"

	"github.com/xhad/docqa/internal/models"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|). It is 0 when either vector
// has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", models.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors a hair past 1.
	return math.Max(-1, math.Min(1, sim)), nil
}

// candidate is a stored entry scored against a query vector.
type candidate struct {
	chunk  models.Chunk
	vector []float32
	score  float64
}

// rankCandidates scores every entry against query, drops those below
// threshold and sorts the rest by score descending. Ties keep insertion order.
func rankCandidates(query []float32, chunks []models.Chunk, vectors [][]float32, threshold float64) ([]candidate, error) {
	ranked := make([]candidate, 0, len(chunks))
	for i, vec := range vectors {
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			return nil, err
		}
		if score < threshold {
			continue
		}
		ranked = append(ranked, candidate{chunk: chunks[i], vector: vec, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked, nil
}

func toResult(cands []candidate) models.RetrievalResult {
	result := models.RetrievalResult{
		Chunks: make([]models.Chunk, len(cands)),
		Scores: make([]float64, len(cands)),
	}
	for i, c := range cands {
		result.Chunks[i] = c.chunk
		result.Scores[i] = c.score
	}
	return result
}
