package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/cyberrag/internal/logging"
	"github.com/xhad/cyberrag/internal/models"
	"github.com/xhad/cyberrag/pkg/store"
)

func newTestStore(t *testing.T, allowDegraded bool) (*store.FlatStore, string) {
	t.Helper()
	dir := t.TempDir()
	return openStore(dir, allowDegraded), dir
}

func openStore(dir string, allowDegraded bool) *store.FlatStore {
	return store.NewFlatStore(store.FlatStoreConfig{
		IndexPath:         filepath.Join(dir, "index.gob"),
		MetadataPath:      filepath.Join(dir, "chunks.gob"),
		AllowDegradedLoad: allowDegraded,
		Logger:            logging.Discard(),
	})
}

func testChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ID:       "src_" + string(rune('a'+i)),
			Text:     "chunk " + string(rune('a'+i)),
			SourceID: "src",
			Metadata: map[string]interface{}{"source": "doc.md", "start_index": i * 10},
		}
	}
	return chunks
}

func TestBuildValidation(t *testing.T) {
	s, _ := newTestStore(t, false)

	tests := []struct {
		name       string
		chunks     []models.Chunk
		embeddings [][]float32
	}{
		{"empty chunks", nil, [][]float32{{1}}},
		{"empty embeddings", testChunks(1), nil},
		{"length mismatch", testChunks(2), [][]float32{{1}}},
		{"ragged dimensions", testChunks(2), [][]float32{{1, 2}, {1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Build(tt.chunks, tt.embeddings)
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, s.Len())
}

func TestSearchKnownVectors(t *testing.T) {
	s, _ := newTestStore(t, false)
	require.NoError(t, s.Build(testChunks(3), [][]float32{{0, 0, 0}, {1, 0, 0}, {5, 5, 5}}))

	results, err := s.Search([]float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "chunk a", results[0].Chunk.Text)
	assert.Equal(t, float32(0), results[0].Distance)
	assert.Equal(t, "chunk b", results[1].Chunk.Text)
	assert.Equal(t, float32(1), results[1].Distance)

	all, err := s.Search([]float32{0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, float32(75), all[2].Distance)
}

func TestSearchBounds(t *testing.T) {
	s, _ := newTestStore(t, false)

	empty, err := s.Search([]float32{1, 2}, 3)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.Build(testChunks(4), [][]float32{{3, 0}, {1, 0}, {2, 0}, {0, 0}}))

	tests := []struct {
		k    int
		want int
	}{
		{0, 0},
		{-1, 0},
		{2, 2},
		{4, 4},
		{10, 4},
	}
	for _, tt := range tests {
		results, err := s.Search([]float32{0, 0}, tt.k)
		require.NoError(t, err)
		require.Len(t, results, tt.want)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
	}

	_, err = s.Search([]float32{0, 0, 0}, 1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSearchTiesKeepInsertionOrder(t *testing.T) {
	s, _ := newTestStore(t, false)
	require.NoError(t, s.Build(testChunks(4), [][]float32{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}))

	results, err := s.Search([]float32{0, 0}, 4)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, testChunks(4)[i].Text, r.Chunk.Text)
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	s, dir := newTestStore(t, false)
	chunks := testChunks(3)
	require.NoError(t, s.Build(chunks, [][]float32{{0, 0, 0}, {1, 0, 0}, {5, 5, 5}}))
	require.NoError(t, s.Persist())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files should remain")

	loaded := openStore(dir, false)
	ok, err := loaded.Load()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 3, loaded.Len())
	assert.Equal(t, 3, loaded.Dimension())
	assert.Equal(t, chunks, loaded.Chunks())
	assert.False(t, loaded.Degraded())

	results, err := loaded.Search([]float32{0, 0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, "chunk a", results[0].Chunk.Text)
	assert.Equal(t, "chunk b", results[1].Chunk.Text)
}

func TestPersistBeforeBuild(t *testing.T) {
	s, _ := newTestStore(t, false)
	assert.ErrorIs(t, s.Persist(), models.ErrInvalidInput)
}

func TestPersistFailureLeavesNoPartialState(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, dir string) string // returns the metadata path
		wantErr string
	}{
		{
			name: "metadata write fails",
			setup: func(t *testing.T, dir string) string {
				blocker := filepath.Join(dir, "blocker")
				require.NoError(t, os.WriteFile(blocker, []byte("file"), 0o644))
				return filepath.Join(blocker, "chunks.gob")
			},
			wantErr: "failed to write chunk metadata",
		},
		{
			name: "metadata rename fails",
			setup: func(t *testing.T, dir string) string {
				target := filepath.Join(dir, "chunks.gob")
				require.NoError(t, os.MkdirAll(filepath.Join(target, "occupied"), 0o755))
				return target
			},
			wantErr: "failed to finalize chunk metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			config := store.FlatStoreConfig{
				IndexPath:    filepath.Join(dir, "index.gob"),
				MetadataPath: tt.setup(t, dir),
				Logger:       logging.Discard(),
			}

			s := store.NewFlatStore(config)
			require.NoError(t, s.Build(testChunks(2), [][]float32{{0, 1}, {1, 0}}))

			err := s.Persist()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			temps, globErr := filepath.Glob(filepath.Join(dir, "*.tmp-*"))
			require.NoError(t, globErr)
			assert.Empty(t, temps)
			assert.NoFileExists(t, config.IndexPath)

			ok, err := store.NewFlatStore(config).Load()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestLoadMissingArtifacts(t *testing.T) {
	s, dir := newTestStore(t, false)

	ok, err := s.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Build(testChunks(1), [][]float32{{1}}))
	require.NoError(t, s.Persist())
	require.NoError(t, os.Remove(filepath.Join(dir, "chunks.gob")))

	fresh := openStore(dir, false)
	ok, err = fresh.Load()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, fresh.Len())
}

// writeMismatched persists a 3-vector index next to a 2-chunk metadata file.
func writeMismatched(t *testing.T) string {
	t.Helper()
	big, dir := newTestStore(t, false)
	require.NoError(t, big.Build(testChunks(3), [][]float32{{0}, {1}, {2}}))
	require.NoError(t, big.Persist())
	index, err := os.ReadFile(filepath.Join(dir, "index.gob"))
	require.NoError(t, err)

	small := openStore(dir, false)
	require.NoError(t, small.Build(testChunks(2), [][]float32{{0}, {1}}))
	require.NoError(t, small.Persist())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.gob"), index, 0644))
	return dir
}

func TestLoadMismatchStrict(t *testing.T) {
	dir := writeMismatched(t)

	s := openStore(dir, false)
	ok, err := s.Load()
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, models.ErrSearchDegraded)
	assert.Equal(t, 0, s.Len())
}

func TestLoadMismatchDegraded(t *testing.T) {
	dir := writeMismatched(t)

	s := openStore(dir, true)
	ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Degraded())

	results, err := s.Search([]float32{0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestLoadCorruptArtifact(t *testing.T) {
	s, dir := newTestStore(t, false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.gob"), []byte("not gob"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chunks.gob"), []byte("not gob"), 0644))

	ok, err := s.Load()
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSquaredL2(t *testing.T) {
	assert.Equal(t, float32(75), store.SquaredL2([]float32{0, 0, 0}, []float32{5, 5, 5}))
	assert.Equal(t, float32(0), store.SquaredL2(nil, nil))
}
