package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/dshills/codeindex/internal/telemetry"
)

// FilePrefix names cache files in the storage directory
const FilePrefix = "index-cache-"

// Manager keeps the file path -> content hash map of one workspace. The
// in-memory map is authoritative; disk writes trail it by the debounce
// window.
type Manager struct {
	path   string
	logger *slog.Logger
	sink   telemetry.Sink

	mu     sync.RWMutex
	hashes map[string]string

	writeMu   sync.Mutex // serializes file replacement
	debouncer *Debouncer
}

// Option configures a Manager
type Option func(*options)

type options struct {
	debounce time.Duration
	logger   *slog.Logger
	sink     telemetry.Sink
}

// WithDebounce overrides the write window. Zero disables timed writes so
// only Flush and Close persist.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTelemetry sets the sink for load and write failures
func WithTelemetry(s telemetry.Sink) Option {
	return func(o *options) { o.sink = s }
}

// FileName returns the cache file name for a workspace. The name depends
// only on the workspace name and path so it is stable across sessions.
func FileName(workspaceName, workspacePath string) string {
	return fmt.Sprintf("%s%016x.json", FilePrefix, xxh3.HashString(workspaceName+workspacePath))
}

// New creates a cache manager storing its file in storageDir. Call
// Initialize before use.
func New(storageDir, workspaceName, workspacePath string, opts ...Option) *Manager {
	o := options{debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.sink == nil {
		o.sink = telemetry.Nop{}
	}

	m := &Manager{
		path:   filepath.Join(storageDir, FileName(workspaceName, workspacePath)),
		logger: o.logger.With(slog.String("component", "cache")),
		sink:   o.sink,
		hashes: make(map[string]string),
	}
	m.debouncer = NewDebouncer(o.debounce, m.persist)
	return m
}

// Path returns the cache file location
func (m *Manager) Path() string {
	return m.path
}

// Initialize loads the persisted map. A missing file yields an empty map;
// an unreadable or corrupt file is reported to telemetry and also yields an
// empty map.
func (m *Manager) Initialize(ctx context.Context) {
	hashes, err := m.load()
	if err != nil {
		m.logger.Warn("discarding unreadable cache file",
			slog.String("path", m.path),
			slog.String("error", err.Error()))
		m.sink.Capture(ctx, telemetry.NewError("cache.Initialize", err))
		hashes = make(map[string]string)
	}

	m.mu.Lock()
	m.hashes = hashes
	m.mu.Unlock()
}

func (m *Manager) load() (map[string]string, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	hashes := make(map[string]string)
	if err := json.Unmarshal(data, &hashes); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return hashes, nil
}

// GetHash returns the stored hash of path
func (m *Manager) GetHash(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hashes[path]
	return h, ok
}

// UpdateHash stores hash for path and schedules a write
func (m *Manager) UpdateHash(path, hash string) {
	m.mu.Lock()
	m.hashes[path] = hash
	m.mu.Unlock()
	m.debouncer.Schedule()
}

// DeleteHash removes path and schedules a write
func (m *Manager) DeleteHash(path string) {
	m.mu.Lock()
	delete(m.hashes, path)
	m.mu.Unlock()
	m.debouncer.Schedule()
}

// GetAllHashes returns a copy of the map
func (m *Manager) GetAllHashes() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.hashes)
}

// Len returns the number of tracked files
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hashes)
}

// ClearCacheFile drops any pending write, replaces the file with an empty
// map and resets memory
func (m *Manager) ClearCacheFile(ctx context.Context) error {
	m.debouncer.Stop()

	m.mu.Lock()
	m.hashes = make(map[string]string)
	m.mu.Unlock()

	if err := m.writeFile(map[string]string{}); err != nil {
		m.sink.Capture(ctx, telemetry.NewError("cache.ClearCacheFile", err))
		return err
	}
	return nil
}

// Flush writes pending changes now
func (m *Manager) Flush() {
	m.debouncer.Flush()
}

// Close flushes pending changes and stops scheduling writes
func (m *Manager) Close() {
	m.debouncer.Close()
}

// persist is the debounced write
func (m *Manager) persist() {
	snapshot := m.GetAllHashes()
	if err := m.writeFile(snapshot); err != nil {
		m.logger.Error("failed to save cache", slog.String("path", m.path), slog.String("error", err.Error()))
		m.sink.Capture(context.Background(), telemetry.NewError("cache.persist", err))
	}
}

// writeFile replaces the cache file through a temp file and rename
func (m *Manager) writeFile(hashes map[string]string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}
