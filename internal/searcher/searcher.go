package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/reranker"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/telemetry"
	"github.com/dshills/codeindex/pkg/types"
)

const tracerName = "github.com/dshills/codeindex/internal/searcher"

var (
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codeindex",
		Subsystem: "search",
		Name:      "requests_total",
		Help:      "Total searches by outcome",
	}, []string{"outcome"})

	rerankFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "codeindex",
		Subsystem: "search",
		Name:      "rerank_fallbacks_total",
		Help:      "Searches that returned raw vector results after a reranker failure",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "codeindex",
		Subsystem: "search",
		Name:      "duration_seconds",
		Help:      "Search latency",
		Buckets:   prometheus.DefBuckets,
	})
)

// ConfigSource exposes the active configuration
type ConfigSource interface {
	IsFeatureEnabled() bool
	IsConfigured() bool
	Current() config.Config
}

// StateTracker reads and updates the index state
type StateTracker interface {
	State() types.IndexState
	SetSystemState(state types.IndexState, message string)
}

// Service answers semantic queries against the vector store
type Service struct {
	config   ConfigSource
	state    StateTracker
	embedder embedder.Embedder
	store    storage.VectorStore
	reranker reranker.Reranker // nil when reranking is off
	sink     telemetry.Sink
	logger   *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithReranker enables second-stage ranking
func WithReranker(r reranker.Reranker) Option {
	return func(s *Service) { s.reranker = r }
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(sink telemetry.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a search service
func New(cfg ConfigSource, state StateTracker, emb embedder.Embedder, store storage.VectorStore, opts ...Option) *Service {
	s := &Service{
		config:   cfg,
		state:    state,
		embedder: emb,
		store:    store,
		sink:     telemetry.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "searcher"))
	return s
}

// SearchIndex embeds query, searches the vector store under dirPrefix and
// optionally reranks the candidates. Embedding and store failures move the
// index to the Error state and are returned. Reranker failures are not.
func (s *Service) SearchIndex(ctx context.Context, query, dirPrefix string) (_ []types.SearchResult, err error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "searcher.Service.SearchIndex",
		trace.WithAttributes(
			attribute.Int("search.query_length", len(query)),
			attribute.String("search.prefix", dirPrefix),
		),
	)
	defer func() {
		searchDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			searchesTotal.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			searchesTotal.WithLabelValues("ok").Inc()
		}
		span.End()
	}()

	if !s.config.IsFeatureEnabled() || !s.config.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if st := s.state.State(); !st.CanServeQueries() {
		return nil, &StateError{State: st}
	}

	cfg := s.config.Current()
	reranking := cfg.RerankingActive() && s.reranker != nil
	limit := cfg.SearchMaxResults
	if reranking {
		limit = cfg.Reranker.TopN
	}
	span.SetAttributes(attribute.Bool("search.rerank", reranking), attribute.Int("search.limit", limit))

	resp, err := s.embedder.CreateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, s.fail(ctx, "searcher.embed", fmt.Errorf("%w: %w", ErrEmbeddingFailed, err))
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, s.fail(ctx, "searcher.embed", ErrEmbeddingFailed)
	}

	results, err := s.store.Search(ctx, resp.Embeddings[0], dirPrefix, cfg.SearchMinScore, limit)
	if err != nil {
		return nil, s.fail(ctx, "searcher.search", &SearchError{Err: err})
	}
	span.SetAttributes(attribute.Int("search.candidates", len(results)))

	if !reranking || len(results) == 0 {
		return results, nil
	}
	return s.rerank(ctx, query, results, cfg.Reranker.TopK), nil
}

// rerank reorders results, falling back to the first topK raw results
func (s *Service) rerank(ctx context.Context, query string, results []types.SearchResult, topK int) []types.SearchResult {
	candidates := make([]reranker.Candidate, 0, len(results))
	byID := make(map[string]types.SearchResult, len(results))
	for _, r := range results {
		byID[r.ID] = r
		c := reranker.Candidate{ID: r.ID}
		if r.Payload != nil {
			c.Content = r.Payload.CodeChunk
			c.Metadata = map[string]any{
				"filePath":  r.Payload.FilePath,
				"startLine": r.Payload.StartLine,
				"endLine":   r.Payload.EndLine,
			}
		}
		candidates = append(candidates, c)
	}

	ranked, err := s.reranker.Rerank(ctx, query, candidates, topK)
	if err != nil {
		rerankFallbacksTotal.Inc()
		s.logger.WarnContext(ctx, "reranking failed, using vector results", slog.Any("error", err))
		s.sink.Capture(ctx, telemetry.NewError("searcher.rerank", err))
		return results[:min(topK, len(results))]
	}

	out := make([]types.SearchResult, 0, len(ranked))
	for _, r := range ranked {
		orig, ok := byID[r.ID]
		if !ok {
			continue
		}
		orig.Score = r.Score
		out = append(out, orig)
		if len(out) == topK {
			break
		}
	}
	return out
}

// fail records err, moves the index to the Error state and returns err
func (s *Service) fail(ctx context.Context, location string, err error) error {
	s.logger.ErrorContext(ctx, "search failed", slog.String("location", location), slog.Any("error", err))
	s.state.SetSystemState(types.StateError, err.Error())
	s.sink.Capture(ctx, telemetry.NewError(location, err))
	return err
}
