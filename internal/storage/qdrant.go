package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/codeindex/pkg/types"
)

// Qdrant settings
const (
	QdrantTimeout        = 30 * time.Second
	qdrantIndexedSegment = 5 // pathSegments.0 .. pathSegments.4 get keyword indexes
	maxQdrantErrorBody   = 4096
)

// QdrantStore implements VectorStore against the Qdrant REST API. Payloads
// carry a pathSegments map so directory filters run server side.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dimension  int
	httpClient *http.Client
	logger     *slog.Logger
}

// QdrantError is a non-2xx Qdrant response
type QdrantError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *QdrantError) Error() string {
	return fmt.Sprintf("qdrant %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// NewQdrantStore creates a client for collection at baseURL
func NewQdrantStore(baseURL, apiKey, collection string, dimension int, httpClient *http.Client, logger *slog.Logger) (*QdrantStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", ErrDimensionMismatch, dimension)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid qdrant url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: QdrantTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dimension:  dimension,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "qdrant_store"), slog.String("collection", collection)),
	}, nil
}

// do sends a request and decodes the "result" field of the response into
// out when out is non-nil. It returns the status code.
func (q *QdrantStore) do(ctx context.Context, op, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant %s: %v", ErrStoreUnavailable, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxQdrantErrorBody))
		return resp.StatusCode, &QdrantError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return resp.StatusCode, nil
	}

	envelope := struct {
		Result json.RawMessage `json:"result"`
	}{}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", op, err)
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s result: %w", op, err)
	}
	return resp.StatusCode, nil
}

func (q *QdrantStore) collectionPath() string {
	return "/collections/" + url.PathEscape(q.collection)
}

// storedDimension returns the vector size of the collection, or 0 when it
// does not exist
func (q *QdrantStore) storedDimension(ctx context.Context) (int, error) {
	var info struct {
		Config struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	status, err := q.do(ctx, "get collection", http.MethodGet, q.collectionPath(), nil, &info)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	// Single unnamed vector config: {"size": N, "distance": "..."}
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(info.Config.Params.Vectors, &single); err != nil {
		return 0, fmt.Errorf("decode vector config: %w", err)
	}
	if single.Size == 0 {
		// Named vectors are not created by this store
		return -1, nil
	}
	return single.Size, nil
}

// Initialize implements VectorStore
func (q *QdrantStore) Initialize(ctx context.Context) (bool, error) {
	existing, err := q.storedDimension(ctx)
	if err != nil {
		return false, err
	}
	if existing == q.dimension {
		return false, nil
	}
	if existing != 0 {
		q.logger.Warn("collection dimension changed, recreating",
			slog.Int("old", existing), slog.Int("new", q.dimension))
		if err := q.DeleteCollection(ctx); err != nil {
			return false, err
		}
	}

	create := map[string]any{
		"vectors": map[string]any{
			"size":     q.dimension,
			"distance": "Cosine",
			"on_disk":  true,
		},
		"hnsw_config": map[string]any{"m": 64, "ef_construct": 512, "on_disk": true},
	}
	if _, err := q.do(ctx, "create collection", http.MethodPut, q.collectionPath(), create, nil); err != nil {
		return false, err
	}

	for i := 0; i < qdrantIndexedSegment; i++ {
		index := map[string]any{"field_name": "pathSegments." + strconv.Itoa(i), "field_schema": "keyword"}
		if _, err := q.do(ctx, "create payload index", http.MethodPut, q.collectionPath()+"/index?wait=true", index, nil); err != nil {
			// Filters still work without the index, only slower
			q.logger.Warn("failed to create payload index", slog.Int("segment", i), slog.String("error", err.Error()))
		}
	}
	return true, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func qdrantPayload(p types.Payload) map[string]any {
	segments := map[string]string{}
	for i, seg := range strings.Split(strings.Trim(p.FilePath, "/"), "/") {
		segments[strconv.Itoa(i)] = seg
	}
	return map[string]any{
		"filePath":     p.FilePath,
		"codeChunk":    p.CodeChunk,
		"startLine":    p.StartLine,
		"endLine":      p.EndLine,
		"segmentHash":  p.SegmentHash,
		"pathSegments": segments,
	}
}

// UpsertPoints implements VectorStore
func (q *QdrantStore) UpsertPoints(ctx context.Context, points []types.Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points, q.dimension); err != nil {
		return err
	}

	body := struct {
		Points []qdrantPoint `json:"points"`
	}{Points: make([]qdrantPoint, len(points))}
	for i, p := range points {
		body.Points[i] = qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: qdrantPayload(p.Payload)}
	}

	_, err := q.do(ctx, "upsert", http.MethodPut, q.collectionPath()+"/points?wait=true", body, nil)
	return err
}

// prefixFilter matches each directory segment against pathSegments.N
func prefixFilter(prefix string) map[string]any {
	if prefix == "" {
		return nil
	}
	var must []map[string]any
	for i, seg := range strings.Split(prefix, "/") {
		must = append(must, map[string]any{
			"key":   "pathSegments." + strconv.Itoa(i),
			"match": map[string]any{"value": seg},
		})
	}
	return map[string]any{"must": must}
}

// Search implements VectorStore
func (q *QdrantStore) Search(ctx context.Context, vector []float32, dirPrefix string, minScore float64, maxResults int) ([]types.SearchResult, error) {
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %d", ErrDimensionMismatch, len(vector), q.dimension)
	}
	if maxResults <= 0 {
		return []types.SearchResult{}, nil
	}

	body := map[string]any{
		"vector":          vector,
		"limit":           maxResults,
		"score_threshold": minScore,
		"with_payload":    true,
		"params":          map[string]any{"hnsw_ef": 128, "exact": false},
	}
	if f := prefixFilter(NormalizePrefix(dirPrefix)); f != nil {
		body["filter"] = f
	}

	var hits []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload types.Payload   `json:"payload"`
	}
	if _, err := q.do(ctx, "search", http.MethodPost, q.collectionPath()+"/points/search", body, &hits); err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		p := h.Payload
		if p.FilePath == "" || p.CodeChunk == "" {
			continue // Foreign points without our payload
		}
		results = append(results, types.SearchResult{ID: pointID(h.ID), Score: h.Score, Payload: &p})
	}
	return results, nil
}

// pointID renders a Qdrant id, which is a UUID string or an integer
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// DeletePointsByFilePath implements VectorStore
func (q *QdrantStore) DeletePointsByFilePath(ctx context.Context, filePath string) error {
	return q.DeletePointsByMultipleFilePaths(ctx, []string{filePath})
}

// DeletePointsByMultipleFilePaths implements VectorStore
func (q *QdrantStore) DeletePointsByMultipleFilePaths(ctx context.Context, filePaths []string) error {
	if len(filePaths) == 0 {
		return nil
	}
	should := make([]map[string]any, len(filePaths))
	for i, p := range filePaths {
		should[i] = map[string]any{"key": "filePath", "match": map[string]any{"value": p}}
	}
	body := map[string]any{"filter": map[string]any{"should": should}}
	_, err := q.do(ctx, "delete points", http.MethodPost, q.collectionPath()+"/points/delete?wait=true", body, nil)
	return err
}

// ClearCollection implements VectorStore
func (q *QdrantStore) ClearCollection(ctx context.Context) error {
	body := map[string]any{"filter": map[string]any{"must": []any{}}}
	_, err := q.do(ctx, "clear collection", http.MethodPost, q.collectionPath()+"/points/delete?wait=true", body, nil)
	return err
}

// DeleteCollection implements VectorStore. A missing collection is not an
// error.
func (q *QdrantStore) DeleteCollection(ctx context.Context) error {
	status, err := q.do(ctx, "delete collection", http.MethodDelete, q.collectionPath(), nil, nil)
	if status == http.StatusNotFound {
		return nil
	}
	return err
}

// CollectionExists implements VectorStore
func (q *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	d, err := q.storedDimension(ctx)
	if err != nil {
		return false, err
	}
	return d != 0, nil
}

// Close releases idle connections
func (q *QdrantStore) Close() error {
	q.httpClient.CloseIdleConnections()
	return nil
}
