// Package indexer builds the chunk store from raw documents.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/internal/types"
)

const SampleFileName = "cybersecurity_overview.md"

// SampleDocument seeds an empty data directory so a first build succeeds.
const SampleDocument = `# Introduction to Cybersecurity
Cybersecurity is the practice of protecting systems, networks, and programs from digital attacks.
These attacks are usually aimed at accessing, changing, or destroying sensitive information;
extorting money from users; or interrupting normal business processes.

## Common Threats
- Malware (Viruses, Worms, Trojans, Ransomware)
- Phishing
- Man-in-the-Middle (MitM) attacks
- Denial-of-Service (DoS) and Distributed Denial-of-Service (DDoS) attacks
- SQL Injection
- Cross-Site Scripting (XSS)

## Pentesting Basics
Penetration testing, also known as pentesting, is a simulated cyber attack against your computer system
to check for exploitable vulnerabilities.
Phases often include:
1. Reconnaissance
2. Scanning
3. Gaining Access (Exploitation)
4. Maintaining Access
5. Analysis & Reporting
`

// Stage names passed to OnProgress.
const (
	StageLoad  = "load"
	StageEmbed = "embed"
)

type IndexerConfig struct {
	Loaders   []types.DocumentLoader
	Processor types.Processor
	Embedder  types.Embedder
	Store     types.ChunkStore
	BatchSize int
	// SeedDir receives SampleDocument when it is missing or empty. Empty
	// disables seeding.
	SeedDir    string
	OnProgress func(stage string, done, total int)
	Logger     *slog.Logger
}

type Stats struct {
	Documents int
	Chunks    int
	Dimension int
	Seeded    bool
}

type Indexer struct {
	config IndexerConfig
	log    *slog.Logger
}

func NewWithConfig(config IndexerConfig) (*Indexer, error) {
	if len(config.Loaders) == 0 || config.Processor == nil || config.Embedder == nil || config.Store == nil {
		return nil, models.Errorf(models.KindInvalidInput, "new indexer", "loaders, processor, embedder and store are required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}
	if config.OnProgress == nil {
		config.OnProgress = func(string, int, int) {}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Indexer{config: config, log: logger.With("component", "indexer")}, nil
}

// Run loads, splits and embeds every document, then replaces the store
// contents and persists them.
func (ix *Indexer) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	if ix.config.SeedDir != "" {
		seeded, err := SeedSample(ix.config.SeedDir)
		if err != nil {
			return stats, fmt.Errorf("failed to seed sample document: %w", err)
		}
		if seeded {
			ix.log.Warn("Data directory was empty, created a sample document; replace it with real documents",
				slog.String("path", filepath.Join(ix.config.SeedDir, SampleFileName)))
		}
		stats.Seeded = seeded
	}

	var docs []models.Document
	for i, l := range ix.config.Loaders {
		loaded, err := l.Load(ctx)
		if err != nil {
			return stats, fmt.Errorf("failed to load documents: %w", err)
		}
		docs = append(docs, loaded...)
		ix.config.OnProgress(StageLoad, i+1, len(ix.config.Loaders))
	}
	stats.Documents = len(docs)
	if len(docs) == 0 {
		return stats, models.Errorf(models.KindInvalidInput, "index", "no documents were loaded")
	}

	chunks, err := ix.config.Processor.Process(docs)
	if err != nil {
		return stats, fmt.Errorf("failed to process documents: %w", err)
	}
	stats.Chunks = len(chunks)
	if len(chunks) == 0 {
		return stats, models.Errorf(models.KindInvalidInput, "index", "no chunks were created from %d documents", len(docs))
	}
	ix.log.Info("Split documents", slog.Int("documents", len(docs)), slog.Int("chunks", len(chunks)))

	vectors, err := ix.embed(ctx, chunks)
	if err != nil {
		return stats, err
	}

	if err := ix.config.Store.Build(chunks, vectors); err != nil {
		return stats, fmt.Errorf("failed to build store: %w", err)
	}
	if err := ix.config.Store.Persist(); err != nil {
		return stats, fmt.Errorf("failed to persist store: %w", err)
	}
	stats.Dimension = ix.config.Store.Dimension()

	ix.log.Info("Index built", slog.Int("chunks", stats.Chunks), slog.Int("dimension", stats.Dimension))
	return stats, nil
}

func (ix *Indexer) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	total := len(chunks)
	vectors := make([][]float32, 0, total)
	ix.config.OnProgress(StageEmbed, 0, total)

	for start := 0; start < total; start += ix.config.BatchSize {
		end := start + ix.config.BatchSize
		if end > total {
			end = total
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		batch, err := ix.config.Embedder.EmbedMany(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		if len(batch) != len(texts) {
			return nil, models.Errorf(models.KindInvalidInput, "index",
				"embedder returned %d vectors for %d chunks", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)
		ix.config.OnProgress(StageEmbed, end, total)
	}
	return vectors, nil
}

// SeedSample writes SampleDocument into dir when dir is missing or empty and
// reports whether it did.
func SeedSample(dir string) (bool, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.WriteFile(filepath.Join(dir, SampleFileName), []byte(SampleDocument), 0644); err != nil {
		return false, err
	}
	return true, nil
}
