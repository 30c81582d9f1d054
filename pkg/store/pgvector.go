package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/cyberrag/internal/models"
)

type PGVectorStoreConfig struct {
	ConnString string
	TableName  string
	BatchSize  int
	Logger     *slog.Logger
}

// PGVectorStore keeps chunks and vectors in PostgreSQL. Search is an exact
// sequential scan ordered by the pgvector L2 operator; no ANN index is created.
type PGVectorStore struct {
	config PGVectorStoreConfig
	pool   *pgxpool.Pool
	log    *slog.Logger
	dim    int
	count  int
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewPGVectorStore(ctx context.Context, config PGVectorStoreConfig) (*PGVectorStore, error) {
	if config.TableName == "" {
		config.TableName = "chunks"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, models.Errorf(models.KindInvalidInput, "new pgvector store", "invalid table name %q", config.TableName)
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVectorStore{
		config: config,
		pool:   pool,
		log:    logger.With("component", "pgvector_store"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// The vector column is untyped so the dimension follows whatever model built the index.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			position INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector NOT NULL
		)`, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

// Build replaces the table contents inside one transaction.
func (vs *PGVectorStore) Build(chunks []models.Chunk, embeddings [][]float32) error {
	dim, err := validateBuild(chunks, embeddings)
	if err != nil {
		return err
	}

	ctx := context.Background()
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("TRUNCATE %s", vs.config.TableName)); err != nil {
		return fmt.Errorf("failed to truncate table: %w", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (position, id, source_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		vs.config.TableName)

	for start := 0; start < len(chunks); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			c := chunks[i]
			batch.Queue(stmt, i, c.ID, c.SourceID, sanitizeUTF8(c.Text), c.Metadata, pgvector.NewVector(embeddings[i]))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks %d-%d: %w", start, end, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.dim = dim
	vs.count = len(chunks)
	vs.log.Info("Built pgvector index", slog.Int("vectors", len(chunks)), slog.Int("dimension", dim))
	return nil
}

// Persist is a no-op: a committed Build is already durable.
func (vs *PGVectorStore) Persist() error {
	if vs.count == 0 {
		return models.Errorf(models.KindInvalidInput, "persist", "store has not been built")
	}
	return nil
}

// Load reports false when the table holds no rows.
func (vs *PGVectorStore) Load() (bool, error) {
	ctx := context.Background()

	var count int
	var dim *int
	query := fmt.Sprintf(`SELECT COUNT(*), MAX(vector_dims(embedding)) FROM %s`, vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, query).Scan(&count, &dim); err != nil {
		return false, fmt.Errorf("failed to inspect table: %w", err)
	}
	if count == 0 || dim == nil {
		vs.log.Warn("Vector table is empty", slog.String("table", vs.config.TableName))
		return false, nil
	}

	vs.count = count
	vs.dim = *dim
	vs.log.Info("Loaded pgvector index", slog.Int("vectors", count), slog.Int("dimension", vs.dim))
	return true, nil
}

func (vs *PGVectorStore) Search(queryEmbedding []float32, k int) ([]models.SearchResult, error) {
	if vs.count == 0 || k <= 0 {
		return []models.SearchResult{}, nil
	}
	if len(queryEmbedding) != vs.dim {
		return nil, models.Errorf(models.KindInvalidInput, "search",
			"query dimension %d does not match index dimension %d", len(queryEmbedding), vs.dim)
	}

	ctx := context.Background()
	query := fmt.Sprintf(`
		SELECT id, source_id, content, metadata, embedding <-> $1 AS distance
		FROM %s
		ORDER BY distance, position
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, k)
	for rows.Next() {
		var c models.Chunk
		var distance float64
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Text, &c.Metadata, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		// pgvector returns the Euclidean distance; callers expect it squared.
		results = append(results, models.SearchResult{Chunk: c, Distance: float32(distance * distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *PGVectorStore) Len() int       { return vs.count }
func (vs *PGVectorStore) Dimension() int { return vs.dim }

func (vs *PGVectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
