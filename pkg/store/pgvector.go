package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
)

type PgVectorConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
}

// PgVectorStore keeps chunks and their embeddings in a Postgres table with
// the pgvector extension. Queries use cosine distance, so score = 1 - distance.
type PgVectorStore struct {
	config PgVectorConfig
	pool   *pgxpool.Pool
}

var _ types.VectorStore = (*PgVectorStore)(nil)

func NewPgVectorStore(ctx context.Context, config PgVectorConfig) (*PgVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PgVectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PgVectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL,
			doc_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			page_number INTEGER NOT NULL,
			char_start INTEGER NOT NULL,
			char_end INTEGER NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (doc_id, id)
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Upsert replaces every row of docID inside one transaction, so concurrent
// queries see either the old or the new document.
func (vs *PgVectorStore) Upsert(ctx context.Context, docID string, chunks []models.Chunk, vectors [][]float32) error {
	if err := validateUpsert(docID, chunks, vectors); err != nil {
		return err
	}
	if len(vectors) > 0 && len(vectors[0]) != vs.config.VectorDim {
		return fmt.Errorf("%w: table holds %d dimensions, got %d",
			models.ErrDimensionMismatch, vs.config.VectorDim, len(vectors[0]))
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", vs.config.TableName), docID); err != nil {
		return fmt.Errorf("failed to clear document: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, doc_id, ordinal, content, page_number, char_start, char_end, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	for i, chunk := range chunks {
		batch.Queue(stmt,
			chunk.ID,
			docID,
			i,
			sanitizeUTF8(chunk.Text),
			chunk.PageNumber,
			chunk.CharStart,
			chunk.CharEnd,
			pgvector.NewVector(vectors[i]),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("pgvector: document %s now holds %d chunks", docID, len(chunks))
	return nil
}

// cosineScore is the similarity of embedding to $2. The <=> operator yields
// NaN when either vector has zero norm; such pairs score 0.
const cosineScore = `COALESCE(NULLIF(1 - (embedding <=> $2), 'NaN'), 0)`

func (vs *PgVectorStore) Query(ctx context.Context, docID string, query []float32, topK int, scoreThreshold float64) (models.RetrievalResult, error) {
	if topK <= 0 {
		return models.EmptyResult(), nil
	}
	if len(query) != vs.config.VectorDim {
		return models.RetrievalResult{}, fmt.Errorf("%w: table holds %d dimensions, query has %d",
			models.ErrDimensionMismatch, vs.config.VectorDim, len(query))
	}

	sql := fmt.Sprintf(`
		SELECT id, doc_id, content, page_number, char_start, char_end, score
		FROM (
			SELECT id, doc_id, content, page_number, char_start, char_end, ordinal, %s AS score
			FROM %s
			WHERE doc_id = $1
		) scored
		WHERE score >= $3
		ORDER BY score DESC, ordinal
		LIMIT $4`,
		cosineScore, vs.config.TableName)

	rows, err := vs.pool.Query(ctx, sql, docID, pgvector.NewVector(query), scoreThreshold, topK)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	result := models.EmptyResult()
	for rows.Next() {
		var chunk models.Chunk
		var score float64
		if err := rows.Scan(&chunk.ID, &chunk.DocID, &chunk.Text, &chunk.PageNumber,
			&chunk.CharStart, &chunk.CharEnd, &score); err != nil {
			return models.RetrievalResult{}, fmt.Errorf("failed to scan row: %w", err)
		}
		result.Chunks = append(result.Chunks, chunk)
		result.Scores = append(result.Scores, score)
	}
	if err := rows.Err(); err != nil {
		return models.RetrievalResult{}, fmt.Errorf("failed to read rows: %w", err)
	}

	return result, nil
}

// QueryWithMMR loads the relevance pool with its embeddings and runs the
// selection in process.
func (vs *PgVectorStore) QueryWithMMR(ctx context.Context, docID string, query []float32, opts types.MMROptions) (models.RetrievalResult, error) {
	if opts.TopK <= 0 {
		return models.EmptyResult(), nil
	}
	multiplier := opts.CandidateMultiplier
	if multiplier <= 0 {
		multiplier = DefaultCandidateMultiplier
	}

	sql := fmt.Sprintf(`
		SELECT id, doc_id, content, page_number, char_start, char_end, embedding
		FROM %s
		WHERE doc_id = $1
		ORDER BY %s DESC, ordinal
		LIMIT $3`,
		vs.config.TableName, cosineScore)

	rows, err := vs.pool.Query(ctx, sql, docID, pgvector.NewVector(query), opts.TopK*multiplier)
	if err != nil {
		return models.RetrievalResult{}, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	var vectors [][]float32
	for rows.Next() {
		var chunk models.Chunk
		var embedding pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.DocID, &chunk.Text, &chunk.PageNumber,
			&chunk.CharStart, &chunk.CharEnd, &embedding); err != nil {
			return models.RetrievalResult{}, fmt.Errorf("failed to scan row: %w", err)
		}
		chunks = append(chunks, chunk)
		vectors = append(vectors, embedding.Slice())
	}
	if err := rows.Err(); err != nil {
		return models.RetrievalResult{}, fmt.Errorf("failed to read rows: %w", err)
	}

	return SelectMMR(query, chunks, vectors, opts)
}

func (vs *PgVectorStore) HasDoc(ctx context.Context, docID string) (bool, error) {
	var exists bool
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE doc_id = $1)", vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, sql, docID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return exists, nil
}

func (vs *PgVectorStore) DeleteDoc(ctx context.Context, docID string) (bool, error) {
	tag, err := vs.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE doc_id = $1", vs.config.TableName), docID)
	if err != nil {
		return false, fmt.Errorf("failed to delete document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (vs *PgVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes; Postgres rejects them in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			_, size := utf8.DecodeRuneInString(s[i:])
			if size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
