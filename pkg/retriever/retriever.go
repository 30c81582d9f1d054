package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/internal/types"
)

// RetrieverConfig represents the configuration for a Retriever.
type RetrieverConfig struct {
	Embedder types.Embedder
	Store    types.ChunkStore
	TopK     int
	Logger   *slog.Logger
}

// Retriever embeds a query and returns the nearest chunks from the store.
type Retriever struct {
	embedder types.Embedder
	store    types.ChunkStore
	topK     int
	log      *slog.Logger
}

func NewWithConfig(config RetrieverConfig) (*Retriever, error) {
	if config.Embedder == nil {
		return nil, models.Errorf(models.KindInvalidInput, "new retriever", "embedder is required")
	}
	if config.Store == nil {
		return nil, models.Errorf(models.KindInvalidInput, "new retriever", "chunk store is required")
	}
	if config.TopK <= 0 {
		config.TopK = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Retriever{
		embedder: config.Embedder,
		store:    config.Store,
		topK:     config.TopK,
		log:      logger.With("component", "retriever"),
	}, nil
}

// Retrieve returns up to topK results ordered by ascending distance. A
// non-positive topK uses the configured default.
//
// A blank query or a failed embedding yields no results and a nil error;
// only store errors are returned.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		r.log.Warn("Empty query, skipping retrieval")
		return []models.SearchResult{}, nil
	}
	if topK <= 0 {
		topK = r.topK
	}

	vector, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		r.log.Error("Failed to embed query", slog.Any("error", err))
		return []models.SearchResult{}, nil
	}
	if vector == nil {
		r.log.Warn("Query produced no embedding")
		return []models.SearchResult{}, nil
	}

	results, err := r.store.Search(vector, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunk store: %w", err)
	}

	r.log.Debug("Retrieved chunks", slog.Int("requested", topK), slog.Int("found", len(results)))
	return results, nil
}
