package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xhad/cyberrag/internal/models"
)

// EmbeddingBackend turns texts into vectors, one per input.
type EmbeddingBackend interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

type EmbedderConfig struct {
	Backend   string // ollama, hugot or openai
	Model     string
	BaseURL   string
	ModelDir  string // hugot model cache
	APIKey    string // openai
	BatchSize int
	Logger    *slog.Logger
}

// Embedder validates backend output and fixes the dimension at construction.
type Embedder struct {
	backend EmbeddingBackend
	model   string
	dim     int
	log     *slog.Logger
}

const dimensionProbe = "dimension probe"

// NewEmbedderWithConfig loads the configured backend. Any failure to load or
// probe the model is reported as ModelUnavailable.
func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (*Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	var (
		backend EmbeddingBackend
		err     error
	)
	switch config.Backend {
	case "", "ollama":
		backend, err = newOllamaBackend(config)
	case "hugot":
		backend, err = newHugotBackend(config)
	case "openai":
		backend, err = newOpenAIBackend(config)
	default:
		return nil, models.Errorf(models.KindInvalidInput, "new embedder", "unknown embedding backend %q", config.Backend)
	}
	if err != nil {
		return nil, models.NewError(models.KindModelUnavailable, "new embedder", err)
	}

	emb, err := NewEmbedder(ctx, backend, config.Model, config.Logger)
	if err != nil {
		if c, ok := backend.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}
	return emb, nil
}

// NewEmbedder probes backend once to learn the embedding dimension.
func NewEmbedder(ctx context.Context, backend EmbeddingBackend, model string, logger *slog.Logger) (*Embedder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	vectors, err := backend.EmbedDocuments(ctx, []string{dimensionProbe})
	if err != nil {
		return nil, models.NewError(models.KindModelUnavailable, "new embedder",
			fmt.Errorf("failed to load embedding model %s: %w", model, err))
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, models.Errorf(models.KindModelUnavailable, "new embedder",
			"embedding model %s returned no vector", model)
	}

	e := &Embedder{
		backend: backend,
		model:   model,
		dim:     len(vectors[0]),
		log:     logger.With("component", "embedder"),
	}
	e.log.Info("Embedding model loaded", slog.String("model", model), slog.Int("dimension", e.dim))
	return e, nil
}

// EmbedMany returns one vector per text, in input order.
func (e *Embedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := e.backend.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding model returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dim {
			return nil, fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), e.dim)
		}
	}
	return vectors, nil
}

// EmbedOne returns nil without error for blank text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vectors, err := e.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) Dimension() int { return e.dim }

func (e *Embedder) ModelInfo() string { return e.model }

func (e *Embedder) Close() error {
	if c, ok := e.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
