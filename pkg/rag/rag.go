// Package rag ingests documents and answers questions about them as an
// ordered stream of events.
package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/citation"
	"github.com/xhad/docqa/pkg/extractor"
	"github.com/xhad/docqa/pkg/llm"
	"github.com/xhad/docqa/pkg/processor"
	"github.com/xhad/docqa/pkg/retrieval"
)

const (
	DefaultMaxQuestionBytes = 4000
	DefaultMaxTopK          = 50
	DefaultMaxUploadBytes   = 20 << 20

	NotFoundAnswer = "I could not find this in the document. Try rephrasing the question or asking about another part of it."
)

const defaultSystemPrompt = `You answer questions about a single document using only the context excerpts provided.
Each excerpt is labelled [page N, chunk ID]. After every statement, cite the excerpt it came from in the form (page N, chunk ID).
If the context does not contain the answer, say that the document does not cover it. Do not invent facts.`

var docIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

type Config struct {
	Retrieval        retrieval.Options
	Rerank           bool
	Citations        citation.Options
	MaxUploadBytes   int64
	MaxQuestionBytes int
	MaxTopK          int
	SystemPrompt     string
}

// Service wires extraction, chunking, embedding, storage, retrieval and
// generation together.
type Service struct {
	store     types.VectorStore
	embedder  types.Embedder
	generator types.Generator
	processor *processor.Processor
	retriever *retrieval.Retriever
	citations *citation.Extractor
	config    Config
}

func New(store types.VectorStore, embedder types.Embedder, generator types.Generator, proc *processor.Processor, config Config) *Service {
	if config.Retrieval.TopK <= 0 {
		config.Retrieval.TopK = retrieval.DefaultTopK
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if config.MaxQuestionBytes <= 0 {
		config.MaxQuestionBytes = DefaultMaxQuestionBytes
	}
	if config.MaxTopK <= 0 {
		config.MaxTopK = DefaultMaxTopK
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = defaultSystemPrompt
	}

	return &Service{
		store:     store,
		embedder:  embedder,
		generator: generator,
		processor: proc,
		retriever: retrieval.New(store, embedder),
		citations: citation.New(config.Citations),
		config:    config,
	}
}

type IngestRequest struct {
	DocID       string
	Filename    string
	ContentType string
	Data        []byte
}

type IngestResult struct {
	DocID  string `json:"docId"`
	Pages  int    `json:"pages"`
	Chunks int    `json:"chunks"`
}

// progressEmbedder is implemented by embedders that report per-batch progress.
type progressEmbedder interface {
	EmbedBatchWithProgress(ctx context.Context, texts []string, onBatch llm.ProgressFunc) ([][]float32, error)
}

// Ingest extracts, chunks, embeds and stores one document, replacing any
// previous content under the same id. An empty DocID gets a fresh one.
func (s *Service) Ingest(ctx context.Context, req IngestRequest, onBatch llm.ProgressFunc) (IngestResult, error) {
	if int64(len(req.Data)) > s.config.MaxUploadBytes {
		return IngestResult{}, fmt.Errorf("%w: upload is %d bytes, limit is %d", models.ErrValidation, len(req.Data), s.config.MaxUploadBytes)
	}
	if len(req.Data) == 0 {
		return IngestResult{}, fmt.Errorf("%w: upload is empty", models.ErrValidation)
	}

	docID := req.DocID
	if docID == "" {
		docID = uuid.NewString()
	} else if !docIDPattern.MatchString(docID) {
		return IngestResult{}, fmt.Errorf("%w: invalid document id %q", models.ErrValidation, docID)
	}

	ext, err := extractor.ForFile(req.Filename, req.ContentType)
	if err != nil {
		return IngestResult{}, err
	}
	pages, err := ext.Extract(req.Data)
	if err != nil {
		return IngestResult{}, err
	}

	chunks := s.processor.ChunkPages(pages, docID)
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("%w: document is too short to index", models.ErrNoTextFound)
	}
	logger.Info("ingesting %s as %s: %d pages, %d chunks", req.Filename, docID, len(pages), len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	if pe, ok := s.embedder.(progressEmbedder); ok {
		vectors, err = pe.EmbedBatchWithProgress(ctx, texts, onBatch)
	} else {
		vectors, err = s.embedder.EmbedBatch(ctx, texts)
		if err == nil && onBatch != nil {
			onBatch(len(texts), len(texts))
		}
	}
	if err != nil {
		return IngestResult{}, fmt.Errorf("embedding document: %w", err)
	}

	if err := s.store.Upsert(ctx, docID, chunks, vectors); err != nil {
		return IngestResult{}, fmt.Errorf("storing document: %w", err)
	}

	return IngestResult{DocID: docID, Pages: len(pages), Chunks: len(chunks)}, nil
}

func (s *Service) HasDocument(ctx context.Context, docID string) (bool, error) {
	return s.store.HasDoc(ctx, docID)
}

// Delete removes docID and reports whether it existed.
func (s *Service) Delete(ctx context.Context, docID string) (bool, error) {
	deleted, err := s.store.DeleteDoc(ctx, docID)
	if err != nil {
		return false, err
	}
	if deleted {
		logger.Info("deleted document %s", docID)
	}
	return deleted, nil
}

// Ask answers req as a stream of text events closed by exactly one done or
// error event. The channel is closed after the terminal event.
func (s *Service) Ask(ctx context.Context, req models.ChatRequest) <-chan models.Event {
	out := make(chan models.Event)

	go func() {
		defer close(out)

		emit := func(ev models.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		citations, err := s.answer(ctx, req, func(text string) bool {
			return emit(models.TextEvent(text))
		})
		if err != nil {
			logger.Warn("chat on %s failed: %v", req.DocID, err)
			emit(models.ErrorEvent(err))
			return
		}
		emit(models.DoneEvent(citations))
	}()

	return out
}

func (s *Service) validate(req models.ChatRequest) (int, error) {
	if strings.TrimSpace(req.DocID) == "" {
		return 0, fmt.Errorf("%w: docId is required", models.ErrValidation)
	}
	if strings.TrimSpace(req.Question) == "" {
		return 0, fmt.Errorf("%w: question is required", models.ErrValidation)
	}
	if len(req.Question) > s.config.MaxQuestionBytes {
		return 0, fmt.Errorf("%w: question is longer than %d bytes", models.ErrValidation, s.config.MaxQuestionBytes)
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.config.Retrieval.TopK
	}
	if topK < 1 || topK > s.config.MaxTopK {
		return 0, fmt.Errorf("%w: topK must be between 1 and %d", models.ErrValidation, s.config.MaxTopK)
	}
	return topK, nil
}

// answer runs one question and returns the citations for the done event.
// Text is handed to onText in arrival order.
func (s *Service) answer(ctx context.Context, req models.ChatRequest, onText func(string) bool) ([]models.Citation, error) {
	topK, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	exists, err := s.store.HasDoc(ctx, req.DocID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: document %s", models.ErrNotFound, req.DocID)
	}

	opts := s.config.Retrieval
	opts.TopK = topK

	var result models.RetrievalResult
	if s.config.Rerank {
		result, err = s.retriever.RetrieveReranked(ctx, req.DocID, req.Question, opts)
	} else {
		result, err = s.retriever.Retrieve(ctx, req.DocID, req.Question, opts)
	}
	if err != nil {
		return nil, err
	}

	if result.Len() == 0 {
		logger.Info("no chunk of %s passed the relevance threshold", req.DocID)
		if !onText(NotFoundAnswer) {
			return nil, ctx.Err()
		}
		return []models.Citation{}, nil
	}

	deltas, err := s.generator.GenerateStream(ctx, s.config.SystemPrompt, buildPrompt(req.Question, result.Chunks))
	if err != nil {
		return nil, err
	}

	var answer strings.Builder
	for d := range deltas {
		switch {
		case d.Err != nil:
			return nil, d.Err
		case d.Done:
			res := s.citations.Extract(answer.String(), result.Chunks)
			if res.UsedFallback {
				logger.Info("answer on %s carried no citation markers, citing %d leading chunks", req.DocID, len(res.Citations))
			}
			return res.Citations, nil
		default:
			answer.WriteString(d.Text)
			if !onText(d.Text) {
				return nil, ctx.Err()
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: answer stream ended without completion", models.ErrProviderTransient)
}

// buildPrompt labels every context chunk so the model can cite it.
func buildPrompt(question string, chunks []models.Chunk) string {
	var b strings.Builder
	b.WriteString("Context:\n\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "[page %d, chunk %s]\n%s", c.PageNumber, c.ID, c.Text)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s\n", strings.TrimSpace(question))
	return b.String()
}
