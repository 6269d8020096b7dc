package store

import (
	"context"
	"fmt"

	"github.com/xhad/docqa/internal/logger"
	"github.com/xhad/docqa/internal/models"
	"github.com/xhad/docqa/internal/types"
	"github.com/xhad/docqa/pkg/config"
)

// NewFromConfig builds the store variant named by cfg.Store.Type. Vector
// dimensions come from the embedder so the table and the model agree.
func NewFromConfig(ctx context.Context, cfg *config.Config) (types.VectorStore, error) {
	switch cfg.Store.Type {
	case config.StoreMemory, "":
		logger.Debug("using in-memory vector store")
		return NewMemoryStore(), nil
	case config.StorePgVector:
		logger.Debug("using pgvector store, table %s", cfg.Store.TableName)
		vs, err := NewPgVectorStore(ctx, PgVectorConfig{
			ConnString: cfg.Store.URL,
			TableName:  cfg.Store.TableName,
			VectorDim:  cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return vs, nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", models.ErrValidation, cfg.Store.Type)
	}
}
