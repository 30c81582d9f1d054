package types

import (
	"context"

	"github.com/xhad/cyberrag/internal/models"
)

// Core interfaces
type ChunkStore interface {
	Build(chunks []models.Chunk, embeddings [][]float32) error
	Persist() error
	Load() (bool, error)
	Search(query []float32, k int) ([]models.SearchResult, error)
	Len() int
	Dimension() int
	Close()
}

type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type DocumentLoader interface {
	Load(ctx context.Context) ([]models.Document, error)
}

type Processor interface {
	Process(docs []models.Document) ([]models.Chunk, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]models.SearchResult, error)
}
