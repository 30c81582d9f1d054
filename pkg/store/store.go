package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xhad/cyberrag/internal/types"
	"github.com/xhad/cyberrag/pkg/config"
)

var (
	_ types.ChunkStore = (*FlatStore)(nil)
	_ types.ChunkStore = (*PGVectorStore)(nil)
)

// New opens the chunk store selected by cfg.Store.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (types.ChunkStore, error) {
	switch cfg.Store.Backend {
	case config.BackendFlat, "":
		return NewFlatStore(FlatStoreConfig{
			IndexPath:         cfg.IndexPath(),
			MetadataPath:      cfg.MetadataPath(),
			AllowDegradedLoad: cfg.Store.AllowDegradedLoad,
			Logger:            logger,
		}), nil
	case config.BackendPGVector:
		return NewPGVectorStore(ctx, PGVectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			BatchSize:  cfg.Database.BatchSize,
			Logger:     logger,
		})
	}
	return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
}
