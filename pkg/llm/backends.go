package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

func newOllamaBackend(config EmbedderConfig) (EmbeddingBackend, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Ollama embedder: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(config.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return emb, nil
}

// hugotBackend runs a sentence-transformers ONNX model in process.
type hugotBackend struct {
	session *hugot.Session
	run     func(texts []string) ([][]float32, error)
}

func newHugotBackend(config EmbedderConfig) (EmbeddingBackend, error) {
	if config.Model == "" {
		config.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if config.ModelDir == "" {
		config.ModelDir = "models"
	}

	modelPath, err := prepareModel(config.Model, config.ModelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "cyberrag-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &hugotBackend{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			result, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
	}, nil
}

func (b *hugotBackend) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.run(texts)
}

func (b *hugotBackend) Close() error {
	return b.session.Destroy()
}

// prepareModel downloads modelName into dir unless a copy is already there.
func prepareModel(modelName, dir string) (string, error) {
	modelPath := filepath.Join(dir, strings.ReplaceAll(modelName, "/", "_"))

	if _, err := os.Stat(modelPath); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create model directory: %w", err)
		}
		downloadOptions := hugot.NewDownloadOptions()
		downloadOptions.OnnxFilePath = "onnx/model.onnx"
		downloaded, err := hugot.DownloadModel(modelName, dir, downloadOptions)
		if err != nil {
			return "", fmt.Errorf("failed to download model: %w", err)
		}
		modelPath = downloaded
	} else if err != nil {
		return "", err
	}

	return modelPath, nil
}

type openAIBackend struct {
	client    *openai.Client
	model     string
	batchSize int
}

func newOpenAIBackend(config EmbedderConfig) (EmbeddingBackend, error) {
	if config.APIKey == "" {
		return nil, errors.New("OpenAI API key is not set")
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &openAIBackend{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.Model,
		batchSize: config.BatchSize,
	}, nil
}

func (b *openAIBackend) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += b.batchSize {
		end := start + b.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(b.model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("OpenAI API error: %w", err)
		}

		for _, d := range resp.Data {
			if d.Index < 0 || start+d.Index >= end {
				return nil, fmt.Errorf("OpenAI returned out of range index %d", d.Index)
			}
			v := make([]float32, len(d.Embedding))
			for i := range d.Embedding {
				v[i] = float32(d.Embedding[i])
			}
			out[start+d.Index] = v
		}
	}

	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("OpenAI returned no embedding for input %d", i)
		}
	}
	return out, nil
}
