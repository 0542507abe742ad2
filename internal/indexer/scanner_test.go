package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/embedder"
)

type scanFixture struct {
	root    string
	store   *memStore
	emb     *countingEmbedder
	cache   HashCache
	scanner *Scanner
}

func newScanFixture(t *testing.T, opts ...ScannerOption) *scanFixture {
	t.Helper()
	f := &scanFixture{
		root:  t.TempDir(),
		store: newMemStore(),
		emb:   &countingEmbedder{},
	}
	f.cache = newTestCache(t, f.root)
	opts = append([]ScannerOption{WithScannerLogger(discardLogger()), WithWorkers(4)}, opts...)
	f.scanner = NewScanner(f.root, f.emb, f.store, f.cache, opts...)
	return f
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a/b/main.go"))
	assert.True(t, IsSupported("App.TSX"))
	assert.False(t, IsSupported("image.png"))
	assert.False(t, IsSupported("Makefile"))
}

func TestScanner_ListFiles(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "main.go", goSource)
	writeFile(t, f.root, "pkg/util.py", "print('hello')\n")
	writeFile(t, f.root, "logo.png", "binary")
	writeFile(t, f.root, ".hidden/secret.go", goSource)
	writeFile(t, f.root, "node_modules/dep/index.js", "x")
	writeFile(t, f.root, "gen/out.go", goSource)
	writeFile(t, f.root, GitIgnoreFile, "gen/\n")

	s := NewScanner(f.root, f.emb, f.store, f.cache, WithScannerLogger(discardLogger()))
	files, err := s.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go", "pkg/util.py"}, files)
}

func TestScanner_ScanIndexesAndSkipsUnchanged(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "a.go", goSource)
	writeFile(t, f.root, "b/b.go", strings.ReplaceAll(goSource, "Add", "Sum"))
	writeFile(t, f.root, "tiny.go", "package x\n")

	var (
		mu    sync.Mutex
		calls []int
	)
	stats, err := f.scanner.Scan(context.Background(), func(processed, total int) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, processed)
		assert.Equal(t, 3, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 2, stats.Blocks)
	assert.Len(t, calls, 3)

	assert.Equal(t, map[string]int{"a.go": 1, "b/b.go": 1}, f.store.files())
	for _, p := range f.store.points {
		assert.Equal(t, PointID(p.Payload.SegmentHash), p.ID)
		assert.Len(t, p.Vector, 3)
	}
	_, tracked := f.cache.GetHash("tiny.go")
	assert.True(t, tracked)

	stats, err = f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Skipped)
	assert.Zero(t, stats.Indexed)
	assert.Equal(t, 2, f.emb.embedded())
}

func TestScanner_ScanReplacesChangedAndRemovesDeleted(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "a.go", goSource)
	writeFile(t, f.root, "b.go", strings.ReplaceAll(goSource, "Add", "Sum"))
	_, err := f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)
	before, _ := f.cache.GetHash("a.go")

	writeFile(t, f.root, "a.go", strings.ReplaceAll(goSource, "a + b", "b + a"))
	require.NoError(t, os.Remove(filepath.Join(f.root, "b.go")))

	stats, err := f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Removed)

	assert.Equal(t, map[string]int{"a.go": 1}, f.store.files())
	for _, p := range f.store.points {
		assert.Contains(t, p.Payload.CodeChunk, "b + a")
	}
	after, _ := f.cache.GetHash("a.go")
	assert.NotEqual(t, before, after)
	_, tracked := f.cache.GetHash("b.go")
	assert.False(t, tracked)
}

func TestScanner_Batching(t *testing.T) {
	f := newScanFixture(t, WithBatchSize(2))
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		writeFile(t, f.root, name+".go", strings.ReplaceAll(goSource, "Add", "Add"+name))
	}
	stats, err := f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Blocks)
	assert.GreaterOrEqual(t, f.emb.calls, 3)
	assert.Len(t, f.store.files(), 5)
}

func TestScanner_EmbedFailureKeepsCache(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "a.go", goSource)
	f.emb.err = &embedder.APIError{Provider: "test", StatusCode: 429}

	_, err := f.scanner.Scan(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, embedder.IsRateLimit(err))
	_, tracked := f.cache.GetHash("a.go")
	assert.False(t, tracked)
	assert.Empty(t, f.store.files())
}

func TestScanner_SkipsLargeFiles(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "big.go", strings.Repeat("// padding line\n", MaxFileSize/16+1))
	stats, err := f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, f.store.files())
}

func TestScanner_IndexFiles(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "a.go", goSource)
	writeFile(t, f.root, "b.go", strings.ReplaceAll(goSource, "Add", "Sum"))
	_, err := f.scanner.Scan(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "b.go")))
	writeFile(t, f.root, "c.go", strings.ReplaceAll(goSource, "Add", "Mul"))

	stats, err := f.scanner.IndexFiles(context.Background(), []string{"b.go", "c.go", "never.go"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Indexed)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, map[string]int{"a.go": 1, "c.go": 1}, f.store.files())
}

func TestScanner_CanceledContext(t *testing.T) {
	f := newScanFixture(t)
	writeFile(t, f.root, "a.go", goSource)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.scanner.Scan(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPointID(t *testing.T) {
	a := PointID("hash-1")
	assert.Equal(t, a, PointID("hash-1"))
	assert.NotEqual(t, a, PointID("hash-2"))
	assert.Len(t, a, 36)
}
