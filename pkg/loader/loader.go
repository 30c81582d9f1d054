// Package loader reads raw documents from a local directory or a
// documentation site.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/internal/types"
)

var (
	_ types.DocumentLoader = (*Loader)(nil)
	_ types.DocumentLoader = (*Crawler)(nil)
)

var DefaultExtensions = []string{".txt", ".md", ".pdf", ".html", ".htm"}

type LoaderConfig struct {
	Dir        string
	Extensions []string
	Logger     *slog.Logger
}

// Loader reads the supported files directly inside one directory.
type Loader struct {
	config     LoaderConfig
	extensions map[string]bool
	log        *slog.Logger
}

func NewWithConfig(config LoaderConfig) (*Loader, error) {
	if config.Dir == "" {
		return nil, models.Errorf(models.KindInvalidInput, "new loader", "directory is required")
	}
	if len(config.Extensions) == 0 {
		config.Extensions = DefaultExtensions
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	extensions := make(map[string]bool, len(config.Extensions))
	for _, ext := range config.Extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}

	return &Loader{
		config:     config,
		extensions: extensions,
		log:        logger.With("component", "loader"),
	}, nil
}

func (l *Loader) Dir() string { return l.config.Dir }

// Load parses every supported file in name order. Files that fail to parse
// are logged and skipped. PDFs yield one document per page.
func (l *Loader) Load(ctx context.Context) ([]models.Document, error) {
	entries, err := os.ReadDir(l.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.Errorf(models.KindInvalidInput, "load", "data directory %s does not exist", l.config.Dir)
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var documents []models.Document
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(l.config.Dir, entry.Name())
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !l.extensions[ext] {
			l.log.Warn("Skipping unsupported file", slog.String("path", path))
			continue
		}

		docs, err := l.loadFile(ctx, path, ext)
		if err != nil {
			l.log.Error("Failed to load file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		documents = append(documents, docs...)
	}

	l.log.Info("Loaded documents", slog.String("dir", l.config.Dir), slog.Int("documents", len(documents)))
	return documents, nil
}

func (l *Loader) loadFile(ctx context.Context, path, ext string) ([]models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch ext {
	case ".pdf":
		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to parse pdf: %w", err)
		}
		return fromSchema(path, "", pages), nil

	case ".html", ".htm":
		_, title, content, err := parseHTML(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		doc := newDocument(path, title, content, nil)
		return []models.Document{doc}, nil

	default:
		docs, err := documentloaders.NewText(f).Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read text: %w", err)
		}
		return fromSchema(path, "", docs), nil
	}
}

func fromSchema(source, title string, docs []schema.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if strings.TrimSpace(d.PageContent) == "" {
			continue
		}
		out = append(out, newDocument(source, title, d.PageContent, d.Metadata))
	}
	return out
}

// newDocument copies meta and sets the source key every chunk relies on.
func newDocument(source, title, content string, meta map[string]any) models.Document {
	metadata := make(map[string]interface{}, len(meta)+2)
	for k, v := range meta {
		metadata[k] = v
	}
	metadata["source"] = source
	if title != "" {
		metadata["title"] = title
	}

	id := source
	if page, ok := metadata["page"]; ok {
		id = fmt.Sprintf("%s#page=%v", source, page)
	}

	return models.Document{
		ID:       id,
		Source:   source,
		Title:    title,
		Content:  content,
		Metadata: metadata,
	}
}
