package store

import (
	"math"
	"sort"

	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

const DefaultCandidateMultiplier = 3

// SelectMMR picks up to opts.TopK entries balancing relevance to query against
// redundancy with entries already picked. The relevance pool is the
// TopK*CandidateMultiplier most similar entries scoring at least
// opts.ScoreThreshold. The selection is returned in relevance order.
func SelectMMR(query []float32, chunks []models.Chunk, vectors [][]float32, opts types.MMROptions) (models.RetrievalResult, error) {
	if len(chunks) != len(vectors) {
		return models.RetrievalResult{}, models.ErrDimensionMismatch
	}
	if opts.TopK <= 0 {
		return models.EmptyResult(), nil
	}

	multiplier := opts.CandidateMultiplier
	if multiplier <= 0 {
		multiplier = DefaultCandidateMultiplier
	}

	pool, err := rankCandidates(query, chunks, vectors, opts.ScoreThreshold)
	if err != nil {
		return models.RetrievalResult{}, err
	}
	if size := opts.TopK * multiplier; len(pool) > size {
		pool = pool[:size]
	}
	if len(pool) == 0 {
		return models.EmptyResult(), nil
	}

	selected := []candidate{pool[0]}
	remaining := append([]candidate(nil), pool[1:]...)

	for len(selected) < opts.TopK && len(remaining) > 0 {
		best := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			redundancy := math.Inf(-1)
			for _, s := range selected {
				sim, err := CosineSimilarity(c.vector, s.vector)
				if err != nil {
					return models.RetrievalResult{}, err
				}
				redundancy = math.Max(redundancy, sim)
			}
			score := opts.Lambda*c.score - (1-opts.Lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		selected = append(selected, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].score > selected[j].score
	})
	return toResult(selected), nil
}
