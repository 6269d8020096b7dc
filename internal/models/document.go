package models

// PageText is the text of one physical page as produced by an extractor.
type PageText struct {
	PageNumber int
	Text       string
}

// Chunk is a bounded span of document text, the unit of embedding and retrieval.
type Chunk struct {
	ID         string `json:"id"`
	DocID      string `json:"doc_id"`
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
}

// RetrievalResult holds ranked chunks with positionally aligned scores.
type RetrievalResult struct {
	Chunks []Chunk   `json:"chunks"`
	Scores []float64 `json:"scores"`
}

// Len returns the number of retrieved chunks.
func (r RetrievalResult) Len() int {
	return len(r.Chunks)
}

// EmptyResult returns a result with non-nil empty slices.
func EmptyResult() RetrievalResult {
	return RetrievalResult{Chunks: []Chunk{}, Scores: []float64{}}
}

// Citation points an answer back at the chunk it drew from.
type Citation struct {
	ChunkID    string `json:"chunk_id"`
	PageNumber int    `json:"page_number"`
	Excerpt    string `json:"excerpt"`
}
