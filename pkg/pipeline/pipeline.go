// Package pipeline answers questions by chaining retrieval, prompt assembly,
// the chat model and the conversation buffer.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/internal/types"
	"github.com/xhad/cyberrag/pkg/config"
	"github.com/xhad/cyberrag/pkg/llm"
	"github.com/xhad/cyberrag/pkg/memory"
	"github.com/xhad/cyberrag/pkg/prompt"
	"github.com/xhad/cyberrag/pkg/retriever"
	"github.com/xhad/cyberrag/pkg/store"
)

// ChatClient is the part of llm.Client the orchestrator needs.
type ChatClient interface {
	Send(ctx context.Context, messages []models.Message, opts llm.Options) llm.Result
	Stream(ctx context.Context, messages []models.Message, opts llm.Options) *llm.Stream
}

// Components are the collaborators of an Orchestrator. Closers are closed
// by Orchestrator.Close in order.
type Components struct {
	Retriever types.Retriever
	Assembler *prompt.Assembler
	Client    ChatClient
	Buffer    *memory.Buffer
	TopK      int
	Options   llm.Options
	Logger    *slog.Logger
	Closers   []func()
}

type ProcessOptions struct {
	Stream bool
	TopK   int
	LLM    llm.Options
}

// Answer is the outcome of one query. Contexts is never nil.
type Answer struct {
	Result   llm.Result
	Contexts []string
}

func (a Answer) String() string { return a.Result.String() }

// Orchestrator owns one conversation. It is not safe for concurrent use.
type Orchestrator struct {
	retriever types.Retriever
	assembler *prompt.Assembler
	client    ChatClient
	buffer    *memory.Buffer
	topK      int
	options   llm.Options
	closers   []func()
	log       *slog.Logger
}

const emptyQueryDetail = "Query cannot be empty."

func New(c Components) (*Orchestrator, error) {
	if c.Retriever == nil || c.Client == nil || c.Buffer == nil {
		return nil, models.Errorf(models.KindInvalidInput, "new pipeline", "retriever, client and buffer are required")
	}
	if c.Assembler == nil {
		c.Assembler = prompt.New()
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		retriever: c.Retriever,
		assembler: c.Assembler,
		client:    c.Client,
		buffer:    c.Buffer,
		topK:      c.TopK,
		options:   c.Options,
		closers:   c.Closers,
		log:       logger.With("component", "pipeline"),
	}, nil
}

// NewWithConfig builds every component from cfg and loads the chunk store.
// Missing store artifacts are reported as StoreNotFound.
func NewWithConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	embedder, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{
		Backend:   cfg.Embedding.Backend,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		ModelDir:  cfg.Embedding.ModelDir,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	chunkStore, err := store.New(ctx, cfg, logger)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("failed to open chunk store: %w", err)
	}
	cleanup := func() {
		chunkStore.Close()
		embedder.Close()
	}

	found, err := chunkStore.Load()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to load chunk store: %w", err)
	}
	if !found {
		cleanup()
		return nil, models.Errorf(models.KindStoreNotFound, "load store",
			"no index found in %s, run `cyberrag build` first", storeLocation(cfg))
	}
	if chunkStore.Dimension() != embedder.Dimension() {
		cleanup()
		return nil, models.Errorf(models.KindInvalidInput, "load store",
			"index dimension %d does not match embedding model %s (%d), rebuild the index",
			chunkStore.Dimension(), embedder.ModelInfo(), embedder.Dimension())
	}

	ret, err := retriever.NewWithConfig(retriever.RetrieverConfig{
		Embedder: embedder,
		Store:    chunkStore,
		TopK:     cfg.Pipeline.TopK,
		Logger:   logger,
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	client, err := llm.NewWithConfig(ctx, llm.ChatConfig{
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Logger:      logger,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to initialize chat client: %w", err)
	}

	buffer, err := memory.New(cfg.Pipeline.MaxHistory)
	if err != nil {
		cleanup()
		return nil, err
	}

	logger.Info("Pipeline ready",
		slog.Int("chunks", chunkStore.Len()),
		slog.String("embedding_model", embedder.ModelInfo()),
		slog.String("llm_model", client.Model()))

	return New(Components{
		Retriever: ret,
		Client:    client,
		Buffer:    buffer,
		TopK:      cfg.Pipeline.TopK,
		Logger:    logger,
		Closers:   []func(){cleanup},
	})
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendPGVector {
		return "table " + cfg.Database.TableName
	}
	return cfg.Store.Dir
}

// Process answers query. Failures are reported in Answer.Result, so the
// conversation can continue after a bad turn.
//
// In stream mode the user turn is recorded before generation and the
// assistant turn is left to the caller (see AddAssistantTurn).
func (o *Orchestrator) Process(ctx context.Context, query string, opts ProcessOptions) Answer {
	if strings.TrimSpace(query) == "" {
		return Answer{Result: llm.Fail(models.KindInvalidInput, emptyQueryDetail), Contexts: []string{}}
	}

	messages, contexts, err := o.prepare(ctx, query, opts.TopK)
	if err != nil {
		return Answer{Result: llm.FailWith(models.KindTransport, err), Contexts: contexts}
	}
	llmOpts := o.mergeOptions(opts.LLM)

	if opts.Stream {
		o.appendTurn(models.RoleUser, query)
		return Answer{Result: o.client.Stream(ctx, messages, llmOpts).Collect(), Contexts: contexts}
	}

	result := o.client.Send(ctx, messages, llmOpts)
	if result.OK() {
		o.appendTurn(models.RoleUser, query)
		o.appendTurn(models.RoleAssistant, result.Text())
	}
	return Answer{Result: result, Contexts: contexts}
}

// StreamQuery records the user turn and returns the live stream with the
// retrieved contexts. The caller must close the stream.
func (o *Orchestrator) StreamQuery(ctx context.Context, query string, opts ProcessOptions) (*llm.Stream, []string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, []string{}, models.Errorf(models.KindInvalidInput, "stream query", "%s", emptyQueryDetail)
	}

	messages, contexts, err := o.prepare(ctx, query, opts.TopK)
	if err != nil {
		return nil, contexts, err
	}

	o.appendTurn(models.RoleUser, query)
	return o.client.Stream(ctx, messages, o.mergeOptions(opts.LLM)), contexts, nil
}

// AddAssistantTurn records a streamed answer. Blank text is ignored.
func (o *Orchestrator) AddAssistantTurn(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return o.buffer.Append(models.RoleAssistant, text)
}

func (o *Orchestrator) History() []models.Message {
	return o.buffer.Snapshot()
}

// Reset forgets the conversation.
func (o *Orchestrator) Reset() {
	o.buffer.Clear()
	o.log.Info("Conversation history cleared")
}

func (o *Orchestrator) Close() error {
	for _, c := range o.closers {
		c()
	}
	o.closers = nil
	return nil
}

var _ io.Closer = (*Orchestrator)(nil)

// prepare retrieves context and assembles the messages for query using the
// history as it was before this turn.
func (o *Orchestrator) prepare(ctx context.Context, query string, topK int) ([]models.Message, []string, error) {
	if topK <= 0 {
		topK = o.topK
	}

	results, err := o.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		o.log.Error("Retrieval failed", slog.Any("error", err))
		return nil, []string{}, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(results) == 0 {
		o.log.Warn("No relevant context found", slog.String("query", query))
	}

	return o.assembler.Build(query, results, o.buffer.Snapshot()), models.ContextStrings(results), nil
}

func (o *Orchestrator) mergeOptions(opts llm.Options) llm.Options {
	if opts.Temperature == nil {
		opts.Temperature = o.options.Temperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = o.options.MaxTokens
	}
	return opts
}

func (o *Orchestrator) appendTurn(role models.Role, content string) {
	if err := o.buffer.Append(role, content); err != nil {
		o.log.Error("Failed to record turn", slog.Any("error", err))
	}
}
