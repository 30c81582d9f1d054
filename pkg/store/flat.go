package store

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xhad/cyberrag/internal/models"
)

type FlatStoreConfig struct {
	IndexPath    string
	MetadataPath string
	// AllowDegradedLoad accepts artifacts whose vector and chunk counts differ.
	// Search is then limited to the aligned prefix.
	AllowDegradedLoad bool
	Logger            *slog.Logger
}

// FlatStore is an exact L2 index over a dense in-memory array of vectors.
type FlatStore struct {
	config FlatStoreConfig
	log    *slog.Logger

	mu       sync.RWMutex
	chunks   []models.Chunk
	vectors  [][]float32
	dim      int
	degraded bool
}

type indexArtifact struct {
	Dimension int
	Vectors   [][]float32
}

type metadataArtifact struct {
	Chunks []models.Chunk
}

func init() {
	// Metadata values are stored behind interface{}.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

func NewFlatStore(config FlatStoreConfig) *FlatStore {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FlatStore{
		config: config,
		log:    logger.With("component", "flat_store"),
	}
}

func (s *FlatStore) Build(chunks []models.Chunk, embeddings [][]float32) error {
	dim, err := validateBuild(chunks, embeddings)
	if err != nil {
		return err
	}

	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = append([]float32(nil), e...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append([]models.Chunk(nil), chunks...)
	s.vectors = vectors
	s.dim = dim
	s.degraded = false

	s.log.Info("Built flat index", slog.Int("vectors", len(vectors)), slog.Int("dimension", dim))
	return nil
}

// Persist writes both artifacts to temporary files and renames them into
// place only after both writes succeeded.
func (s *FlatStore) Persist() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return models.Errorf(models.KindInvalidInput, "persist", "store has not been built")
	}

	idxTmp, err := writeGobTemp(s.config.IndexPath, indexArtifact{Dimension: s.dim, Vectors: s.vectors})
	if err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	metaTmp, err := writeGobTemp(s.config.MetadataPath, metadataArtifact{Chunks: s.chunks})
	if err != nil {
		os.Remove(idxTmp)
		return fmt.Errorf("failed to write chunk metadata: %w", err)
	}

	if err := os.Rename(idxTmp, s.config.IndexPath); err != nil {
		os.Remove(idxTmp)
		os.Remove(metaTmp)
		return fmt.Errorf("failed to finalize index: %w", err)
	}
	if err := os.Rename(metaTmp, s.config.MetadataPath); err != nil {
		os.Remove(metaTmp)
		// Without its metadata the new index is unusable.
		os.Remove(s.config.IndexPath)
		return fmt.Errorf("failed to finalize chunk metadata: %w", err)
	}

	s.log.Info("Persisted flat index",
		slog.String("index", s.config.IndexPath),
		slog.String("metadata", s.config.MetadataPath),
		slog.Int("chunks", len(s.chunks)))
	return nil
}

// Load reads both artifacts. It reports false when either one is missing.
func (s *FlatStore) Load() (bool, error) {
	for _, p := range []string{s.config.IndexPath, s.config.MetadataPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("Vector store artifact not found", slog.String("path", p))
				return false, nil
			}
			return false, fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}

	var idx indexArtifact
	if err := readGob(s.config.IndexPath, &idx); err != nil {
		return false, fmt.Errorf("failed to read index: %w", err)
	}
	var meta metadataArtifact
	if err := readGob(s.config.MetadataPath, &meta); err != nil {
		return false, fmt.Errorf("failed to read chunk metadata: %w", err)
	}

	degraded := len(idx.Vectors) != len(meta.Chunks)
	if degraded {
		err := models.Errorf(models.KindSearchDegraded, "load",
			"mismatch between index size (%d) and number of chunks (%d)", len(idx.Vectors), len(meta.Chunks))
		if !s.config.AllowDegradedLoad {
			return false, err
		}
		s.log.Warn("Loading inconsistent vector store", slog.Any("error", err))
	}
	if len(idx.Vectors) == 0 {
		s.log.Warn("Loaded vector store is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = idx.Vectors
	s.chunks = meta.Chunks
	s.dim = idx.Dimension
	s.degraded = degraded

	s.log.Info("Loaded flat index", slog.Int("vectors", len(s.vectors)), slog.Int("chunks", len(s.chunks)))
	return true, nil
}

// Search returns the k nearest chunks by squared Euclidean distance,
// nearest first. Equal distances keep insertion order.
func (s *FlatStore) Search(query []float32, k int) ([]models.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.vectors)
	if len(s.chunks) < n {
		n = len(s.chunks)
	}
	if n == 0 || k <= 0 {
		return []models.SearchResult{}, nil
	}
	if len(query) != s.dim {
		return nil, models.Errorf(models.KindInvalidInput, "search",
			"query dimension %d does not match index dimension %d", len(query), s.dim)
	}

	type scored struct {
		pos  int
		dist float32
	}
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		all[i] = scored{pos: i, dist: SquaredL2(query, s.vectors[i])}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })

	if k > n {
		k = n
	}
	results := make([]models.SearchResult, k)
	for i := 0; i < k; i++ {
		results[i] = models.SearchResult{Chunk: s.chunks[all[i].pos], Distance: all[i].dist}
	}
	return results, nil
}

func (s *FlatStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

func (s *FlatStore) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Degraded reports whether the loaded artifacts disagreed on their counts.
func (s *FlatStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Chunks returns a copy of the stored chunk list.
func (s *FlatStore) Chunks() []models.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Chunk(nil), s.chunks...)
}

func (s *FlatStore) Close() {}

// SquaredL2 assumes len(a) == len(b).
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func validateBuild(chunks []models.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) == 0 || len(embeddings) == 0 {
		return 0, models.Errorf(models.KindInvalidInput, "build", "document chunks and embeddings cannot be empty")
	}
	if len(chunks) != len(embeddings) {
		return 0, models.Errorf(models.KindInvalidInput, "build",
			"the number of document chunks (%d) and embeddings (%d) must be the same", len(chunks), len(embeddings))
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return 0, models.Errorf(models.KindInvalidInput, "build", "embeddings cannot be zero-length")
	}
	for i, e := range embeddings {
		if len(e) != dim {
			return 0, models.Errorf(models.KindInvalidInput, "build",
				"embedding %d has dimension %d, expected %d", i, len(e), dim)
		}
	}
	return dim, nil
}

func writeGobTemp(path string, v interface{}) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", err
	}
	if err := gob.NewEncoder(f).Encode(v); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func readGob(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}
