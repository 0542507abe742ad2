package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/reranker"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/telemetry"
)

// Services are the collaborators built for one configuration
type Services struct {
	Embedder embedder.Embedder
	Store    storage.VectorStore
	Reranker reranker.Reranker // nil when reranking is off
	Scanner  *indexer.Scanner
	Watcher  *indexer.Watcher
	Search   *searcher.Service
}

// Close stops the watcher and releases the store
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	if s.Watcher != nil {
		s.Watcher.Stop()
	}
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// ServiceDeps are the runtime inputs of a ServiceFactory
type ServiceDeps struct {
	Config  config.Config
	Source  searcher.ConfigSource
	State   searcher.StateTracker
	Cache   indexer.HashCache
	OnBatch func(indexer.BatchResult)
}

// ServiceFactory builds the services of a configuration
type ServiceFactory interface {
	CreateServices(ctx context.Context, deps ServiceDeps) (*Services, error)
}

// DefaultFactory builds services from the configured providers
type DefaultFactory struct {
	WorkspacePath string
	StorageDir    string
	HTTPClient    *http.Client
	Sink          telemetry.Sink
	Logger        *slog.Logger
}

// CreateServices implements ServiceFactory. A reranker that cannot be
// built is logged and left out; search then runs without reranking.
func (f *DefaultFactory) CreateServices(ctx context.Context, deps ServiceDeps) (*Services, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := f.Sink
	if sink == nil {
		sink = telemetry.Nop{}
	}
	cfg := deps.Config

	opts := []embedder.Option{embedder.WithLogger(logger)}
	if f.HTTPClient != nil {
		opts = append(opts, embedder.WithHTTPClient(f.HTTPClient))
	}
	emb, err := embedder.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	store, err := storage.New(cfg, f.WorkspacePath, f.StorageDir, f.HTTPClient, logger)
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}

	var rr reranker.Reranker
	if cfg.RerankingActive() {
		rr, err = reranker.New(cfg.Reranker, f.HTTPClient, logger)
		if err != nil {
			logger.Warn("reranker unavailable, searching without it", slog.Any("error", err))
			sink.Capture(ctx, telemetry.NewError("manager.createReranker", err))
			rr = nil
		}
	}

	scanner := indexer.NewScanner(f.WorkspacePath, emb, store, deps.Cache,
		indexer.WithScannerLogger(logger),
		indexer.WithScannerTelemetry(sink),
	)
	watcher := indexer.NewWatcher(scanner,
		indexer.WithBatchHandler(deps.OnBatch),
		indexer.WithWatcherLogger(logger),
		indexer.WithWatcherTelemetry(sink),
	)
	searchOpts := []searcher.Option{searcher.WithTelemetry(sink), searcher.WithLogger(logger)}
	if rr != nil {
		searchOpts = append(searchOpts, searcher.WithReranker(rr))
	}

	return &Services{
		Embedder: emb,
		Store:    store,
		Reranker: rr,
		Scanner:  scanner,
		Watcher:  watcher,
		Search:   searcher.New(deps.Source, deps.State, emb, store, searchOpts...),
	}, nil
}
