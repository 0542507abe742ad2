package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/codeindex/internal/config"
)

const tracerName = "github.com/dshills/codeindex/internal/reranker"

// Limits of the rerank protocols
const (
	RequestTimeout   = 30 * time.Second
	MaxResultsLimit  = 100
	DefaultMaxResult = 20
	CohereBaseURL    = "https://api.cohere.ai"
	CohereModel      = "rerank-english-v3.0"
	cohereMaxDocs    = 1000
	maxErrorBody     = 4096
)

var (
	ErrNoQuery       = errors.New("rerank query cannot be empty")
	ErrUnavailable   = errors.New("reranker unavailable")
	ErrBadResponse   = errors.New("invalid reranker response")
	ErrNotConfigured = errors.New("reranker not configured")
)

// Candidate is a document to rerank
type Candidate struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// Ranked is a reranked candidate, best first
type Ranked struct {
	ID    string
	Score float64
	Rank  int // 1-based
}

// Reranker scores candidates against a query
type Reranker interface {
	// Rerank returns at most topK candidates ordered by relevance. Ids the
	// reranker drops are absent from the result.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Ranked, error)

	// Health checks that the backend is ready
	Health(ctx context.Context) error
}

// New creates the reranker selected by cfg, or nil when reranking is off
func New(cfg config.RerankerConfig, httpClient *http.Client, logger *slog.Logger) (Reranker, error) {
	if !cfg.Enabled || cfg.Provider == "" {
		return nil, nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: RequestTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "reranker"), slog.String("provider", cfg.Provider))

	switch cfg.Provider {
	case config.RerankerLocal:
		url := cfg.URL
		if url == "" {
			url = config.DefaultRerankerURL
		}
		return &LocalReranker{baseURL: strings.TrimRight(url, "/"), httpClient: httpClient, logger: logger}, nil
	case config.RerankerCohere:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNotConfigured, config.SecretRerankerKey)
		}
		url := cfg.URL
		if url == "" || url == config.DefaultRerankerURL {
			url = CohereBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = CohereModel
		}
		return &CohereReranker{
			baseURL:    strings.TrimRight(url, "/"),
			apiKey:     cfg.APIKey,
			model:      model,
			httpClient: httpClient,
			logger:     logger,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}
}

// clampTopK bounds topK to the protocol range
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultMaxResult
	}
	return min(topK, MaxResultsLimit)
}

// startSpan opens a rerank span
func startSpan(ctx context.Context, provider string, candidates, topK int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reranker.Rerank",
		trace.WithAttributes(
			attribute.String("reranker.provider", provider),
			attribute.Int("reranker.candidates", candidates),
			attribute.Int("reranker.top_k", topK),
		),
	)
}

func endSpan(span trace.Span, err error, results int) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("reranker.results", results))
	}
	span.End()
}

// postJSON sends body and decodes a 2xx response into out
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// finalize sorts best first, renumbers ranks and truncates
func finalize(results []Ranked, topK int) []Ranked {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

// LocalReranker calls a self-hosted cross-encoder service
type LocalReranker struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type localDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type localRequest struct {
	Query      string          `json:"query"`
	Documents  []localDocument `json:"documents"`
	MaxResults int             `json:"max_results"`
}

type localResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Rerank implements Reranker
func (r *LocalReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (_ []Ranked, err error) {
	topK = clampTopK(topK)
	ctx, span := startSpan(ctx, config.RerankerLocal, len(candidates), topK)
	var out []Ranked
	defer func() { endSpan(span, err, len(out)) }()

	if strings.TrimSpace(query) == "" {
		return nil, ErrNoQuery
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	req := localRequest{Query: query, MaxResults: topK, Documents: make([]localDocument, len(candidates))}
	known := make(map[string]struct{}, len(candidates))
	for i, c := range candidates {
		req.Documents[i] = localDocument{ID: c.ID, Content: c.Content, Metadata: c.Metadata}
		known[c.ID] = struct{}{}
	}

	var resp []localResult
	if err := postJSON(ctx, r.httpClient, r.baseURL+"/rerank", nil, req, &resp); err != nil {
		return nil, err
	}

	out = make([]Ranked, 0, len(resp))
	for _, res := range resp {
		if _, ok := known[res.ID]; !ok {
			return nil, fmt.Errorf("%w: unknown document id %q", ErrBadResponse, res.ID)
		}
		out = append(out, Ranked{ID: res.ID, Score: res.Score})
	}
	out = finalize(out, topK)
	r.logger.Debug("reranked", slog.Int("candidates", len(candidates)), slog.Int("results", len(out)))
	return out, nil
}

// Health implements Reranker
func (r *LocalReranker) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health struct {
		Status string `json:"status"`
		Model  string `json:"model"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if resp.StatusCode != http.StatusOK || health.Status != "healthy" {
		return fmt.Errorf("%w: status %q %s", ErrUnavailable, health.Status, health.Error)
	}
	return nil
}

// CohereReranker calls the Cohere rerank API
type CohereReranker struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type cohereRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements Reranker
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) (_ []Ranked, err error) {
	topK = clampTopK(topK)
	ctx, span := startSpan(ctx, config.RerankerCohere, len(candidates), topK)
	var out []Ranked
	defer func() { endSpan(span, err, len(out)) }()

	if strings.TrimSpace(query) == "" {
		return nil, ErrNoQuery
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if len(candidates) > cohereMaxDocs {
		candidates = candidates[:cohereMaxDocs]
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	var resp cohereResponse
	headers := map[string]string{"Authorization": "Bearer " + r.apiKey}
	body := cohereRequest{Query: query, Documents: docs, Model: r.model, TopN: topK}
	if err := postJSON(ctx, r.httpClient, r.baseURL+"/v1/rerank", headers, body, &resp); err != nil {
		return nil, err
	}

	out = make([]Ranked, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrBadResponse, res.Index)
		}
		out = append(out, Ranked{ID: candidates[res.Index].ID, Score: res.RelevanceScore})
	}
	out = finalize(out, topK)
	return out, nil
}

// Health verifies credentials with a one-document request
func (r *CohereReranker) Health(ctx context.Context) error {
	_, err := r.Rerank(ctx, "health", []Candidate{{ID: "0", Content: "ok"}}, 1)
	return err
}
