package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dshills/codeindex/internal/cache"
	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/internal/telemetry"
	"github.com/dshills/codeindex/pkg/types"
)

// Status messages
const (
	MsgDisabled      = "Code indexing is disabled"
	MsgNotConfigured = "Code indexing is not configured"
	MsgReady         = "Ready to index"
	MsgInitializing  = "Initializing services"
	MsgScanning      = "Scanning workspace"
	MsgIndexed       = "Index up-to-date"
	MsgCleared       = "Index data cleared"
	MsgWatcherFailed = "Failed to process file changes"
)

var (
	// ErrIndexingInProgress is returned when a run is already active
	ErrIndexingInProgress = errors.New("indexing already in progress")

	// ErrNotInitialized is returned before Initialize succeeded
	ErrNotInitialized = errors.New("code index manager not initialized")
)

// InitResult is returned by Initialize
type InitResult struct {
	RequiresRestart bool
}

// Manager owns the lifecycle of one workspace index
type Manager struct {
	workspacePath string
	storageDir    string
	config        *config.Manager
	factory       ServiceFactory
	state         *StateManager
	sink          telemetry.Sink
	logger        *slog.Logger
	cacheOpts     []cache.Option

	lock indexer.IndexLock

	mu          sync.Mutex
	initialized bool
	cache       *cache.Manager
	services    *Services
}

// Option configures a Manager
type Option func(*Manager)

// WithFactory replaces the default service factory
func WithFactory(f ServiceFactory) Option {
	return func(m *Manager) { m.factory = f }
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(sink telemetry.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCacheOptions passes options to the hash cache
func WithCacheOptions(opts ...cache.Option) Option {
	return func(m *Manager) { m.cacheOpts = append(m.cacheOpts, opts...) }
}

// New creates a manager for the workspace at workspacePath. Index data is
// kept under storageDir.
func New(workspacePath, storageDir string, cfg *config.Manager, opts ...Option) *Manager {
	m := &Manager{
		workspacePath: workspacePath,
		storageDir:    storageDir,
		config:        cfg,
		state:         NewStateManager(),
		sink:          telemetry.Nop{},
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(slog.String("component", "manager"))
	if m.factory == nil {
		m.factory = &DefaultFactory{
			WorkspacePath: workspacePath,
			StorageDir:    storageDir,
			Sink:          m.sink,
			Logger:        m.logger,
		}
	}
	return m
}

// State exposes the state manager
func (m *Manager) State() *StateManager { return m.state }

// Status returns the current index status
func (m *Manager) Status() types.IndexStatus { return m.state.Status() }

// Config returns the configuration manager
func (m *Manager) Config() *config.Manager { return m.config }

// IsInitialized reports whether Initialize has completed
func (m *Manager) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Initialize loads the configuration and builds services. A disabled or
// unconfigured index stays in Standby without services. Services are
// rebuilt when none exist or the configuration change requires it.
func (m *Manager) Initialize(ctx context.Context) (*InitResult, error) {
	res, err := m.config.LoadConfiguration(ctx)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.IsFeatureEnabled() {
		m.disposeLocked()
		m.initialized = true
		m.state.SetSystemState(types.StateStandby, MsgDisabled)
		return &InitResult{RequiresRestart: res.RequiresRestart}, nil
	}
	if !m.config.IsConfigured() {
		m.disposeLocked()
		m.initialized = true
		m.state.SetSystemState(types.StateStandby, MsgNotConfigured)
		return &InitResult{RequiresRestart: res.RequiresRestart}, nil
	}

	m.ensureCacheLocked(ctx)
	if m.services == nil || res.RequiresRestart {
		if err := m.recreateServicesLocked(ctx); err != nil {
			m.state.SetSystemState(types.StateError, err.Error())
			return nil, err
		}
		m.state.SetSystemState(types.StateStandby, MsgReady)
	}
	m.initialized = true
	return &InitResult{RequiresRestart: res.RequiresRestart}, nil
}

// ensureCacheLocked creates and loads the hash cache on first use
func (m *Manager) ensureCacheLocked(ctx context.Context) {
	if m.cache != nil {
		return
	}
	opts := append([]cache.Option{cache.WithLogger(m.logger), cache.WithTelemetry(m.sink)}, m.cacheOpts...)
	m.cache = cache.New(m.storageDir, filepath.Base(m.workspacePath), m.workspacePath, opts...)
	m.cache.Initialize(ctx)
}

func (m *Manager) recreateServicesLocked(ctx context.Context) error {
	if m.services != nil {
		if err := m.services.Close(); err != nil {
			m.logger.Warn("failed to close services", slog.Any("error", err))
		}
		m.services = nil
	}
	svc, err := m.factory.CreateServices(ctx, ServiceDeps{
		Config:  m.config.Current(),
		Source:  m.config,
		State:   m.state,
		Cache:   m.cache,
		OnBatch: m.onWatcherBatch,
	})
	if err != nil {
		m.sink.Capture(ctx, telemetry.NewError("manager.createServices", err))
		return fmt.Errorf("create services: %w", err)
	}
	m.services = svc
	return nil
}

// disposeLocked stops and drops services, keeping the cache
func (m *Manager) disposeLocked() {
	if m.services != nil {
		if err := m.services.Close(); err != nil {
			m.logger.Warn("failed to close services", slog.Any("error", err))
		}
		m.services = nil
	}
}

// activeServices returns the services and cache, or an error when the
// index cannot run
func (m *Manager) activeServices() (*Services, *cache.Manager, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, nil, ErrNotInitialized
	}
	if m.services == nil || m.cache == nil {
		return nil, nil, searcher.ErrNotConfigured
	}
	return m.services, m.cache, nil
}

// StartIndexing validates the embedder, prepares the collection, scans
// the workspace and starts the watcher. It blocks until the scan is done.
func (m *Manager) StartIndexing(ctx context.Context) (*indexer.ScanStats, error) {
	svc, hashes, err := m.activeServices()
	if err != nil {
		return nil, err
	}
	if !m.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer m.lock.Release()

	if svc.Watcher.Running() {
		svc.Watcher.Stop()
	}

	m.state.SetSystemState(types.StateIndexing, MsgInitializing)
	if err := svc.Embedder.Validate(ctx); err != nil {
		return nil, m.indexingFailed(ctx, svc, hashes, fmt.Errorf("validate embedder: %w", err))
	}

	created, err := svc.Store.Initialize(ctx)
	if err != nil {
		return nil, m.indexingFailed(ctx, svc, hashes, fmt.Errorf("initialize vector store: %w", err))
	}
	if created {
		// A new collection holds none of the cached files
		if err := hashes.ClearCacheFile(ctx); err != nil {
			m.logger.Warn("failed to clear cache for new collection", slog.Any("error", err))
		}
	}

	m.state.SetSystemState(types.StateIndexing, MsgScanning)
	stats, err := svc.Scanner.Scan(ctx, func(processed, total int) {
		m.state.ReportProgress(processed, total, "files")
	})
	if err != nil {
		return stats, m.indexingFailed(ctx, svc, hashes, fmt.Errorf("scan workspace: %w", err))
	}
	hashes.Flush()

	if err := svc.Watcher.Start(context.WithoutCancel(ctx)); err != nil {
		m.logger.Warn("file watcher unavailable", slog.Any("error", err))
		m.sink.Capture(ctx, telemetry.NewError("manager.startWatcher", err))
	}

	m.state.SetSystemState(types.StateIndexed, MsgIndexed)
	m.logger.Info("indexing complete",
		slog.Int("files", stats.Files),
		slog.Int("indexed", stats.Indexed),
		slog.Int("removed", stats.Removed))
	return stats, nil
}

// indexingFailed moves to Error. Unless the failure is a rate limit, the
// collection and cache are cleared so the next run starts from scratch.
func (m *Manager) indexingFailed(ctx context.Context, svc *Services, hashes *cache.Manager, err error) error {
	m.logger.Error("indexing failed", slog.Any("error", err))
	m.sink.Capture(ctx, telemetry.NewError("manager.startIndexing", err))

	if !embedder.IsRateLimit(err) {
		cleanup := context.WithoutCancel(ctx)
		if cerr := svc.Store.ClearCollection(cleanup); cerr != nil {
			m.logger.Warn("failed to clear collection after error", slog.Any("error", cerr))
		}
		if cerr := hashes.ClearCacheFile(cleanup); cerr != nil {
			m.logger.Warn("failed to clear cache after error", slog.Any("error", cerr))
		}
	}
	m.state.SetSystemState(types.StateError, err.Error())
	return err
}

func (m *Manager) onWatcherBatch(res indexer.BatchResult) {
	if res.Err != nil {
		m.state.SetSystemState(types.StateError, fmt.Sprintf("%s: %v", MsgWatcherFailed, res.Err))
		return
	}
	if st := m.state.State(); st == types.StateIndexed || st == types.StateError {
		m.state.SetSystemState(types.StateIndexed, MsgIndexed)
	}
}

// StopWatcher stops following file changes
func (m *Manager) StopWatcher() {
	m.mu.Lock()
	svc := m.services
	m.mu.Unlock()
	if svc != nil && svc.Watcher != nil {
		svc.Watcher.Stop()
	}
	if m.state.State() == types.StateIndexing {
		m.state.SetSystemState(types.StateStandby, "")
	}
}

// ClearIndexData deletes the collection and the cache file
func (m *Manager) ClearIndexData(ctx context.Context) error {
	svc, hashes, err := m.activeServices()
	if err != nil {
		return err
	}
	if !m.lock.TryAcquire() {
		return ErrIndexingInProgress
	}
	defer m.lock.Release()

	svc.Watcher.Stop()
	var errs []error
	if err := svc.Store.DeleteCollection(ctx); err != nil {
		errs = append(errs, fmt.Errorf("delete collection: %w", err))
	}
	if err := hashes.ClearCacheFile(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear cache: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		m.sink.Capture(ctx, telemetry.NewError("manager.clearIndexData", err))
		m.state.SetSystemState(types.StateError, err.Error())
		return err
	}
	m.state.SetSystemState(types.StateStandby, MsgCleared)
	return nil
}

// SearchIndex runs a semantic search
func (m *Manager) SearchIndex(ctx context.Context, query, dirPrefix string) ([]types.SearchResult, error) {
	if !m.config.IsFeatureEnabled() || !m.config.IsConfigured() {
		return nil, searcher.ErrNotConfigured
	}
	svc, _, err := m.activeServices()
	if err != nil {
		return nil, err
	}
	return svc.Search.SearchIndex(ctx, query, dirPrefix)
}

// HandleSettingsChange reloads the configuration. It does nothing before
// Initialize. Services are rebuilt when the change requires a restart and
// torn down when the feature was switched off. The result reports whether
// services were rebuilt.
func (m *Manager) HandleSettingsChange(ctx context.Context) (bool, error) {
	if !m.IsInitialized() {
		return false, nil
	}
	res, err := m.config.LoadConfiguration(ctx)
	if err != nil {
		return false, fmt.Errorf("load configuration: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.IsFeatureEnabled() {
		m.disposeLocked()
		m.state.SetSystemState(types.StateStandby, MsgDisabled)
		return false, nil
	}
	if !res.RequiresRestart || !m.config.IsConfigured() {
		return false, nil
	}

	m.ensureCacheLocked(ctx)
	if err := m.recreateServicesLocked(ctx); err != nil {
		m.state.SetSystemState(types.StateError, err.Error())
		return false, err
	}
	m.state.SetSystemState(types.StateStandby, MsgReady)
	return true, nil
}

// RecoverFromError resets the Error state and drops every service handle
// so the next Initialize starts fresh. The handles are cleared even if the
// state update fails.
func (m *Manager) RecoverFromError(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.disposeLocked()
		if m.cache != nil {
			m.cache.Close()
			m.cache = nil
		}
		m.initialized = false
	}()
	m.logger.InfoContext(ctx, "recovering from error", slog.String("previous_state", string(m.state.State())))
	m.state.SetSystemState(types.StateStandby, "")
}

// Close stops the watcher, releases the store and flushes the cache
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.services != nil {
		err = m.services.Close()
		m.services = nil
	}
	if m.cache != nil {
		m.cache.Close()
		m.cache = nil
	}
	m.initialized = false
	return err
}
