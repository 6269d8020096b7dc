// Package retrieval decides how a question is matched against a stored
// document: which search strategy runs and with what parameters.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

const (
	DefaultTopK           = 8
	DefaultScoreThreshold = 0.2
	DefaultMMRLambda      = 0.5

	// Reranking fetches twice the requested results, up to this many.
	maxRerankCandidates = 20
	maxKeywordBoost     = 0.1
)

// Options controls a single retrieval. Use DefaultOptions as the base;
// a zero Options disables MMR and uses a zero threshold.
type Options struct {
	TopK                int
	ScoreThreshold      float64
	UseMMR              bool
	MMRLambda           float64
	CandidateMultiplier int
}

func DefaultOptions() Options {
	return Options{
		TopK:           DefaultTopK,
		ScoreThreshold: DefaultScoreThreshold,
		UseMMR:         true,
		MMRLambda:      DefaultMMRLambda,
	}
}

// Retriever coordinates the embedder and the vector store. It holds no
// state of its own.
type Retriever struct {
	store    types.VectorStore
	embedder types.Embedder
}

func New(store types.VectorStore, embedder types.Embedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

// Retrieve returns the chunks of docID most relevant to query. An unknown
// document yields an empty result; embedding failures are returned.
func (r *Retriever) Retrieve(ctx context.Context, docID, query string, opts Options) (models.RetrievalResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	exists, err := r.store.HasDoc(ctx, docID)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("checking document %s: %w", docID, err)
	}
	if !exists {
		logger.Debug("retrieval: document %s not indexed", docID)
		return models.EmptyResult(), nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("embedding query: %w", err)
	}

	var result models.RetrievalResult
	if opts.UseMMR {
		result, err = r.store.QueryWithMMR(ctx, docID, vector, types.MMROptions{
			TopK:                opts.TopK,
			Lambda:              opts.MMRLambda,
			CandidateMultiplier: opts.CandidateMultiplier,
			ScoreThreshold:      opts.ScoreThreshold,
		})
	} else {
		result, err = r.store.Query(ctx, docID, vector, opts.TopK, opts.ScoreThreshold)
	}
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("querying document %s: %w", docID, err)
	}

	logger.Debug("retrieval: doc=%s mmr=%t topK=%d threshold=%.2f -> %d chunks",
		docID, opts.UseMMR, opts.TopK, opts.ScoreThreshold, result.Len())
	return result, nil
}

// RetrieveReranked fetches 2*TopK candidates (at most 20), boosts each score
// by up to 0.1 for the share of query terms longer than three characters
// that appear in the chunk, and keeps the best TopK.
func (r *Retriever) RetrieveReranked(ctx context.Context, docID, query string, opts Options) (models.RetrievalResult, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	topK := opts.TopK

	wide := opts
	wide.TopK = min(topK*2, maxRerankCandidates)
	if wide.TopK < topK {
		wide.TopK = topK
	}

	result, err := r.Retrieve(ctx, docID, query, wide)
	if err != nil {
		return models.RetrievalResult{}, err
	}
	return Rerank(result, query, topK), nil
}

// Rerank applies the keyword boost to result and truncates it to topK.
func Rerank(result models.RetrievalResult, query string, topK int) models.RetrievalResult {
	terms := queryTerms(query)

	type scored struct {
		chunk models.Chunk
		score float64
	}
	items := make([]scored, result.Len())
	for i, chunk := range result.Chunks {
		items[i] = scored{chunk: chunk, score: result.Scores[i] + keywordBoost(chunk.Text, terms)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})
	if len(items) > topK {
		items = items[:topK]
	}

	out := models.RetrievalResult{
		Chunks: make([]models.Chunk, len(items)),
		Scores: make([]float64, len(items)),
	}
	for i, it := range items {
		out.Chunks[i] = it.chunk
		out.Scores[i] = it.score
	}
	return out
}

func queryTerms(query string) []string {
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		term := strings.TrimFunc(field, func(r rune) bool {
			return strings.ContainsRune(".,;:!?\"'()[]{}", r)
		})
		if len([]rune(term)) > 3 {
			terms = append(terms, term)
		}
	}
	return terms
}

func keywordBoost(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return maxKeywordBoost * float64(hits) / float64(len(terms))
}
