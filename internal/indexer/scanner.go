package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeindex/internal/chunker"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/telemetry"
	"github.com/dshills/codeindex/pkg/types"
)

const (
	// MaxFileSize is the largest file that is indexed
	MaxFileSize = 1 << 20

	// MaxListFiles caps the number of files considered in one scan
	MaxListFiles = 50_000

	// BatchSegmentThreshold is the number of blocks embedded per request
	BatchSegmentThreshold = 60
)

// pointNamespace seeds the v5 UUIDs derived from segment hashes
var pointNamespace = uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")

// ErrTooManyFiles is logged when a workspace exceeds MaxListFiles
var ErrTooManyFiles = errors.New("workspace file limit reached")

// supportedExtensions lists the file types that are indexed
var supportedExtensions = map[string]struct{}{
	".go": {}, ".py": {}, ".js": {}, ".jsx": {}, ".ts": {}, ".tsx": {}, ".mjs": {},
	".java": {}, ".kt": {}, ".scala": {}, ".rs": {}, ".c": {}, ".h": {}, ".cpp": {},
	".cc": {}, ".hpp": {}, ".cs": {}, ".rb": {}, ".php": {}, ".swift": {}, ".lua": {},
	".sh": {}, ".sql": {}, ".proto": {}, ".vue": {}, ".svelte": {}, ".css": {},
	".scss": {}, ".html": {}, ".md": {}, ".yaml": {}, ".yml": {}, ".toml": {},
	".json": {}, ".ex": {}, ".exs": {}, ".elm": {}, ".zig": {}, ".dart": {},
}

// IsSupported reports whether path has an indexed extension
func IsSupported(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// HashCache maps workspace relative paths to file content hashes
type HashCache interface {
	GetHash(path string) (string, bool)
	UpdateHash(path, hash string)
	DeleteHash(path string)
	GetAllHashes() map[string]string
}

// ProgressFunc receives scan progress
type ProgressFunc func(processed, total int)

// ScanStats summarizes a scan
type ScanStats struct {
	Files   int // Files considered
	Indexed int // Files embedded and written
	Skipped int // Unchanged files
	Removed int // Files deleted from the index
	Blocks  int // Blocks written
}

// Scanner walks a workspace and keeps the vector store in sync with it
type Scanner struct {
	root     string
	embedder embedder.Embedder
	store    storage.VectorStore
	cache    HashCache
	chunker  *chunker.Chunker
	ignore   *IgnoreMatcher
	sink     telemetry.Sink
	logger   *slog.Logger

	workers   int
	batchSize int
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithWorkers sets the number of files processed concurrently
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBatchSize sets the number of blocks per embedding request
func WithBatchSize(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithIgnoreMatcher replaces the matcher loaded from the workspace
func WithIgnoreMatcher(m *IgnoreMatcher) ScannerOption {
	return func(s *Scanner) { s.ignore = m }
}

// WithScannerLogger sets the logger
func WithScannerLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithScannerTelemetry sets the telemetry sink
func WithScannerTelemetry(sink telemetry.Sink) ScannerOption {
	return func(s *Scanner) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewScanner creates a scanner for the workspace at root
func NewScanner(root string, emb embedder.Embedder, store storage.VectorStore, cache HashCache, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		root:      root,
		embedder:  emb,
		store:     store,
		cache:     cache,
		chunker:   chunker.New(),
		sink:      telemetry.Nop{},
		logger:    slog.Default(),
		workers:   runtime.NumCPU(),
		batchSize: BatchSegmentThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scanner"))
	if s.ignore == nil {
		s.ignore = LoadIgnoreMatcher(root, s.logger)
	}
	return s
}

// Root returns the workspace root
func (s *Scanner) Root() string { return s.root }

// Ignored reports whether a workspace relative path is excluded
func (s *Scanner) Ignored(rel string, isDir bool) bool {
	return s.ignore.Ignored(rel, isDir)
}

// ListFiles returns the workspace relative paths of indexable files,
// sorted and capped at MaxListFiles
func (s *Scanner) ListFiles(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || s.ignore.Ignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsSupported(rel) || s.ignore.Ignored(rel, false) {
			return nil
		}
		if len(files) >= MaxListFiles {
			return ErrTooManyFiles
		}
		files = append(files, rel)
		return nil
	})
	if errors.Is(err, ErrTooManyFiles) {
		s.logger.Warn("file limit reached, indexing a partial workspace", slog.Int("limit", MaxListFiles))
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("list workspace files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Scan indexes every changed file and removes points for files that no
// longer exist
func (s *Scanner) Scan(ctx context.Context, progress ProgressFunc) (*ScanStats, error) {
	files, err := s.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	stats, err := s.processFiles(ctx, files, progress)
	if err != nil {
		return stats, err
	}

	present := make(map[string]struct{}, len(files))
	for _, f := range files {
		present[f] = struct{}{}
	}
	var stale []string
	for path := range s.cache.GetAllHashes() {
		if _, ok := present[path]; !ok {
			stale = append(stale, path)
		}
	}
	if len(stale) > 0 {
		sort.Strings(stale)
		if err := s.RemoveFiles(ctx, stale); err != nil {
			return stats, err
		}
		stats.Removed = len(stale)
	}

	s.logger.Info("scan complete",
		slog.Int("files", stats.Files),
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Int("blocks", stats.Blocks),
	)
	return stats, nil
}

// IndexFiles re-indexes the given workspace relative paths. Missing,
// unsupported or ignored files are removed from the index.
func (s *Scanner) IndexFiles(ctx context.Context, rels []string) (*ScanStats, error) {
	var keep, gone []string
	for _, rel := range rels {
		info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
		switch {
		case err != nil, !info.Mode().IsRegular(), !IsSupported(rel), s.ignore.Ignored(rel, false):
			if _, tracked := s.cache.GetHash(rel); tracked {
				gone = append(gone, rel)
			}
		default:
			keep = append(keep, rel)
		}
	}

	stats, err := s.processFiles(ctx, keep, nil)
	if err != nil {
		return stats, err
	}
	if len(gone) > 0 {
		if err := s.RemoveFiles(ctx, gone); err != nil {
			return stats, err
		}
		stats.Removed = len(gone)
	}
	return stats, nil
}

// RemoveFiles deletes the points and cache entries of rels
func (s *Scanner) RemoveFiles(ctx context.Context, rels []string) error {
	if len(rels) == 0 {
		return nil
	}
	if err := s.store.DeletePointsByMultipleFilePaths(ctx, rels); err != nil {
		return fmt.Errorf("delete points for removed files: %w", err)
	}
	for _, rel := range rels {
		s.cache.DeleteHash(rel)
	}
	return nil
}

// fileWork is a changed file with its blocks
type fileWork struct {
	rel     string
	hash    string
	changed bool // Previously indexed with another hash
	blocks  []types.CodeBlock
}

// batcher accumulates whole files until the block threshold is reached
type batcher struct {
	mu     sync.Mutex
	files  []fileWork
	blocks int
	limit  int
}

// add queues f and returns a full batch to flush, if any
func (b *batcher) add(f fileWork) []fileWork {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files = append(b.files, f)
	b.blocks += len(f.blocks)
	if b.blocks < b.limit {
		return nil
	}
	return b.takeLocked()
}

func (b *batcher) take() []fileWork {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.takeLocked()
}

func (b *batcher) takeLocked() []fileWork {
	out := b.files
	b.files, b.blocks = nil, 0
	return out
}

func (s *Scanner) processFiles(ctx context.Context, files []string, progress ProgressFunc) (*ScanStats, error) {
	stats := &ScanStats{Files: len(files)}
	if len(files) == 0 {
		return stats, nil
	}

	var indexed, skipped, blocks, processed atomic.Int64
	b := &batcher{limit: s.batchSize}

	flush := func(ctx context.Context, batch []fileWork) error {
		n, err := s.writeBatch(ctx, batch)
		if err != nil {
			return err
		}
		indexed.Add(int64(len(batch)))
		blocks.Add(int64(n))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, rel := range files {
		g.Go(func() error {
			defer func() {
				done := processed.Add(1)
				if progress != nil {
					progress(int(done), len(files))
				}
			}()

			work, ok, err := s.prepare(gctx, rel)
			if err != nil {
				return err
			}
			if !ok {
				skipped.Add(1)
				return nil
			}
			if batch := b.add(work); batch != nil {
				return flush(gctx, batch)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		if batch := b.take(); len(batch) > 0 {
			err = flush(ctx, batch)
		}
	}

	stats.Indexed = int(indexed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Blocks = int(blocks.Load())
	return stats, err
}

// prepare reads, hashes and chunks one file. ok is false when the file is
// unchanged or unreadable.
func (s *Scanner) prepare(ctx context.Context, rel string) (fileWork, bool, error) {
	if err := ctx.Err(); err != nil {
		return fileWork{}, false, err
	}

	path := filepath.Join(s.root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Debug("skipping unreadable file", slog.String("file", rel), slog.Any("error", err))
		return fileWork{}, false, nil
	}
	if info.Size() > MaxFileSize {
		s.logger.Debug("skipping large file", slog.String("file", rel), slog.Int64("size", info.Size()))
		return fileWork{}, false, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("failed to read file", slog.String("file", rel), slog.Any("error", err))
		s.sink.Capture(ctx, telemetry.NewError("indexer.readFile", err))
		return fileWork{}, false, nil
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	prev, tracked := s.cache.GetHash(rel)
	if tracked && prev == hash {
		return fileWork{}, false, nil
	}

	return fileWork{
		rel:     rel,
		hash:    hash,
		changed: tracked,
		blocks:  s.chunker.ChunkFile(rel, content, hash),
	}, true, nil
}

// writeBatch replaces the points of every file in batch and records the
// new hashes once the upsert succeeded
func (s *Scanner) writeBatch(ctx context.Context, batch []fileWork) (int, error) {
	var (
		stale  []string
		texts  []string
		blocks []types.CodeBlock
	)
	for _, f := range batch {
		if f.changed {
			stale = append(stale, f.rel)
		}
		for _, b := range f.blocks {
			texts = append(texts, b.Content)
			blocks = append(blocks, b)
		}
	}

	if len(stale) > 0 {
		if err := s.store.DeletePointsByMultipleFilePaths(ctx, stale); err != nil {
			return 0, fmt.Errorf("delete points for changed files: %w", err)
		}
	}

	if len(texts) > 0 {
		resp, err := s.embedder.CreateEmbeddings(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed batch of %d blocks: %w", len(texts), err)
		}
		if len(resp.Embeddings) != len(blocks) {
			return 0, fmt.Errorf("%w: got %d embeddings for %d blocks",
				embedder.ErrProviderFailed, len(resp.Embeddings), len(blocks))
		}

		points := make([]types.Point, len(blocks))
		for i, b := range blocks {
			points[i] = types.Point{
				ID:     PointID(b.SegmentHash),
				Vector: resp.Embeddings[i],
				Payload: types.Payload{
					FilePath:    b.FilePath,
					CodeChunk:   b.Content,
					StartLine:   b.StartLine,
					EndLine:     b.EndLine,
					SegmentHash: b.SegmentHash,
				},
			}
		}
		if err := s.store.UpsertPoints(ctx, points); err != nil {
			return 0, fmt.Errorf("upsert %d points: %w", len(points), err)
		}
	}

	for _, f := range batch {
		s.cache.UpdateHash(f.rel, f.hash)
	}
	return len(blocks), nil
}

// PointID derives a stable point id from a segment hash
func PointID(segmentHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(segmentHash)).String()
}
