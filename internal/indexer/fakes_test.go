package indexer

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/cache"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory VectorStore
type memStore struct {
	mu      sync.Mutex
	points  map[string]types.Point
	deleted []string
	upserts int
}

func newMemStore() *memStore {
	return &memStore{points: make(map[string]types.Point)}
}

func (m *memStore) Initialize(context.Context) (bool, error) { return false, nil }

func (m *memStore) UpsertPoints(_ context.Context, points []types.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memStore) Search(context.Context, []float32, string, float64, int) ([]types.SearchResult, error) {
	return nil, nil
}

func (m *memStore) DeletePointsByFilePath(ctx context.Context, path string) error {
	return m.DeletePointsByMultipleFilePaths(ctx, []string{path})
}

func (m *memStore) DeletePointsByMultipleFilePaths(_ context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range paths {
		m.deleted = append(m.deleted, path)
		for id, p := range m.points {
			if p.Payload.FilePath == path {
				delete(m.points, id)
			}
		}
	}
	return nil
}

func (m *memStore) ClearCollection(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = make(map[string]types.Point)
	return nil
}

func (m *memStore) DeleteCollection(ctx context.Context) error { return m.ClearCollection(ctx) }

func (m *memStore) CollectionExists(context.Context) (bool, error) { return true, nil }

func (m *memStore) Close() error { return nil }

// files returns the set of file paths with points
func (m *memStore) files() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	for _, p := range m.points {
		out[p.Payload.FilePath]++
	}
	return out
}

// countingEmbedder returns fixed vectors and counts embedded texts
type countingEmbedder struct {
	mu    sync.Mutex
	texts int
	calls int
	err   error
}

func (e *countingEmbedder) CreateEmbeddings(_ context.Context, texts []string) (*embedder.EmbeddingResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.calls++
	e.texts += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return &embedder.EmbeddingResponse{Embeddings: out}, nil
}

func (e *countingEmbedder) Validate(context.Context) error { return nil }
func (e *countingEmbedder) Provider() string               { return "test" }
func (e *countingEmbedder) Model() string                  { return "test" }
func (e *countingEmbedder) Dimension() int                 { return 3 }

func (e *countingEmbedder) embedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

func newTestCache(t *testing.T, root string) *cache.Manager {
	t.Helper()
	c := cache.New(t.TempDir(), "ws", root, cache.WithDebounce(0), cache.WithLogger(discardLogger()))
	c.Initialize(context.Background())
	t.Cleanup(c.Close)
	return c
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const goSource = `package demo

// Add returns the sum of a and b.
func Add(a, b int) int {
	return a + b
}
`
