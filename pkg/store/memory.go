package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

// snapshot is the immutable state of one document. Upsert replaces the
// whole snapshot, so readers never see a mix of old and new entries.
type snapshot struct {
	chunks  []models.Chunk
	vectors [][]float32
}

// MemoryStore is an in-process similarity index with brute-force search.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*snapshot
}

var _ types.VectorStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*snapshot)}
}

func (m *MemoryStore) Upsert(_ context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error {
	snap, err := newSnapshot(docID, chunks, vectors)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.docs[docID] = snap
	m.mu.Unlock()

	logger.Debug("memory store: document %s now holds %d chunks", docID, len(chunks))
	return nil
}

func (m *MemoryStore) Query(_ context.Context, docID string, query []float32, topK int, scoreThreshold float64) (models.RetrievalResult, error) {
	snap := m.get(docID)
	if snap == nil || topK <= 0 {
		return models.EmptyResult(), nil
	}

	ranked, err := rankCandidates(query, snap.chunks, snap.vectors, scoreThreshold)
	if err != nil {
		return models.RetrievalResult{}, err
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return toResult(ranked), nil
}

func (m *MemoryStore) QueryWithMMR(_ context.Context, docID string, query []float32, opts types.MMROptions) (models.RetrievalResult, error) {
	snap := m.get(docID)
	if snap == nil {
		return models.EmptyResult(), nil
	}
	return SelectMMR(query, snap.chunks, snap.vectors, opts)
}

func (m *MemoryStore) HasDoc(_ context.Context, docID string) (bool, error) {
	return m.get(docID) != nil, nil
}

func (m *MemoryStore) DeleteDoc(_ context.Context, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[docID]; !ok {
		return false, nil
	}
	delete(m.docs, docID)
	return true, nil
}

func (m *MemoryStore) Close() {}

func (m *MemoryStore) get(docID string) *snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs[docID]
}

// newSnapshot validates and copies the input so later caller mutation
// cannot leak into stored state.
func newSnapshot(docID string, chunks []models.Chunk, vectors [][]float32) (*snapshot, error) {
	if err := validateUpsert(docID, chunks, vectors); err != nil {
		return nil, err
	}

	snap := &snapshot{
		chunks:  make([]models.Chunk, len(chunks)),
		vectors: make([][]float32, len(vectors)),
	}
	copy(snap.chunks, chunks)
	for i, v := range vectors {
		snap.vectors[i] = append([]float32(nil), v...)
	}
	return snap, nil
}

// validateUpsert checks the shape shared by every store variant: one vector
// per chunk, one dimension across vectors, chunks owned by docID.
func validateUpsert(docID string, chunks []models.Chunk, vectors [][]float32) error {
	if docID == "" {
		return fmt.Errorf("%w: document id is required", models.ErrValidation)
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", models.ErrDimensionMismatch, len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != len(vectors[0]) {
			return fmt.Errorf("%w: vector %d has %d dimensions, expected %d",
				models.ErrDimensionMismatch, i, len(v), len(vectors[0]))
		}
		if chunks[i].DocID != "" && chunks[i].DocID != docID {
			return fmt.Errorf("%w: chunk %s belongs to document %s", models.ErrValidation, chunks[i].ID, chunks[i].DocID)
		}
	}
	return nil
}
