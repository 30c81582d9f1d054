package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/cyberrag/internal/types"
	cfgPkg "github.com/xhad/cyberrag/pkg/config"
	"github.com/xhad/cyberrag/pkg/indexer"
	"github.com/xhad/cyberrag/pkg/llm"
	"github.com/xhad/cyberrag/pkg/loader"
	"github.com/xhad/cyberrag/pkg/processor"
	"github.com/xhad/cyberrag/pkg/store"
)

func runBuild(ctx context.Context, cfg *cfgPkg.Config, opts options, logger *slog.Logger) error {
	color.Blue("Building vector store from %s", cfg.Loader.RawDataDir)

	dirLoader, err := loader.NewWithConfig(loader.LoaderConfig{
		Dir:        cfg.Loader.RawDataDir,
		Extensions: cfg.Loader.Extensions,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	loaders := []types.DocumentLoader{dirLoader}

	if opts.docsURL != "" {
		var pages int
		crawler, err := loader.NewCrawler(loader.CrawlerConfig{
			BaseURL:           opts.docsURL,
			MaxDepth:          cfg.Scraper.MaxDepth,
			RateLimit:         cfg.Scraper.RateLimit,
			IgnorePatterns:    cfg.Scraper.IgnorePatterns,
			AllowedExtensions: cfg.Scraper.AllowedExtensions,
			OnProgress: func(url string) {
				pages++
				logger.Debug("Crawling", slog.String("url", url), slog.Int("pages", pages))
			},
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize crawler: %w", err)
		}
		loaders = append(loaders, crawler)
		color.Blue("Crawling %s (max depth %d)", opts.docsURL, cfg.Scraper.MaxDepth)
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return err
	}

	spinner := getSpinner(fmt.Sprintf("Loading embedding model %s...", cfg.Embedding.Model))
	embedder, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{
		Backend:   cfg.Embedding.Backend,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		ModelDir:  cfg.Embedding.ModelDir,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
		Logger:    logger,
	})
	spinner.Finish()
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer embedder.Close()

	chunkStore, err := store.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open chunk store: %w", err)
	}
	defer chunkStore.Close()

	seedDir := ""
	if cfg.Loader.SeedSample {
		seedDir = cfg.Loader.RawDataDir
	}

	var bar *progressbar.ProgressBar
	ix, err := indexer.NewWithConfig(indexer.IndexerConfig{
		Loaders:   loaders,
		Processor: proc,
		Embedder:  embedder,
		Store:     chunkStore,
		BatchSize: cfg.Embedding.BatchSize,
		SeedDir:   seedDir,
		OnProgress: func(stage string, done, total int) {
			if stage != indexer.StageEmbed {
				return
			}
			if bar == nil {
				bar = getProgressBar(total, "Embedding chunks...")
			}
			bar.Set(done)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	stats, err := ix.Run(ctx)
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return err
	}

	if stats.Seeded {
		color.Yellow("Created a sample document in %s. Replace it with your own cybersecurity documents.", cfg.Loader.RawDataDir)
	}
	color.Green("✓ Indexed %d documents into %d chunks (dimension %d)", stats.Documents, stats.Chunks, stats.Dimension)
	return nil
}
