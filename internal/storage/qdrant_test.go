package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/pkg/types"
)

// fakeQdrant records requests and serves a single collection
type fakeQdrant struct {
	mu        sync.Mutex
	dimension int // 0 means the collection does not exist
	requests  []string
	bodies    map[string]map[string]any
	hits      []map[string]any
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	f.requests = append(f.requests, key)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if f.bodies == nil {
		f.bodies = map[string]map[string]any{}
	}
	f.bodies[key] = body

	if r.Header.Get("api-key") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	reply := func(result any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/ws-test":
		if f.dimension == 0 {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		reply(map[string]any{"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": f.dimension, "distance": "Cosine"},
		}}})
	case r.Method == http.MethodPut && r.URL.Path == "/collections/ws-test":
		vectors := body["vectors"].(map[string]any)
		f.dimension = int(vectors["size"].(float64))
		reply(true)
	case r.Method == http.MethodDelete && r.URL.Path == "/collections/ws-test":
		if f.dimension == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.dimension = 0
		reply(true)
	case r.Method == http.MethodPost && r.URL.Path == "/collections/ws-test/points/search":
		reply(f.hits)
	default:
		reply(map[string]any{"status": "completed"})
	}
}

func (f *fakeQdrant) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r == key {
			n++
		}
	}
	return n
}

func (f *fakeQdrant) body(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func newTestQdrant(t *testing.T, fake *fakeQdrant, dimension int) *QdrantStore {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	q, err := NewQdrantStore(server.URL+"/", "secret", "ws-test", dimension, nil, nil)
	require.NoError(t, err)
	return q
}

func TestQdrantStore_Initialize(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing collection with payload indexes", func(t *testing.T) {
		fake := &fakeQdrant{}
		q := newTestQdrant(t, fake, 4)

		created, err := q.Initialize(ctx)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 4, fake.dimension)
		assert.Equal(t, qdrantIndexedSegment, fake.count("PUT /collections/ws-test/index"))

		created, err = q.Initialize(ctx)
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("recreates on dimension change", func(t *testing.T) {
		fake := &fakeQdrant{dimension: 3}
		q := newTestQdrant(t, fake, 4)

		created, err := q.Initialize(ctx)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, fake.count("DELETE /collections/ws-test"))
		assert.Equal(t, 4, fake.dimension)
	})

	t.Run("auth failure", func(t *testing.T) {
		server := httptest.NewServer(&fakeQdrant{})
		defer server.Close()
		q, err := NewQdrantStore(server.URL, "wrong", "ws-test", 4, nil, nil)
		require.NoError(t, err)

		_, err = q.Initialize(ctx)
		var qe *QdrantError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, http.StatusUnauthorized, qe.StatusCode)
	})

	t.Run("unreachable", func(t *testing.T) {
		q, err := NewQdrantStore("http://127.0.0.1:1", "", "ws-test", 4, nil, nil)
		require.NoError(t, err)
		_, err = q.CollectionExists(ctx)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := NewQdrantStore("not a url", "", "ws-test", 4, nil, nil)
		assert.Error(t, err)
	})
}

func TestQdrantStore_Search(t *testing.T) {
	ctx := context.Background()
	fake := &fakeQdrant{
		dimension: 2,
		hits: []map[string]any{
			{"id": "7f0c1f9e-0000-0000-0000-000000000001", "score": 0.91, "payload": map[string]any{
				"filePath": "src/api/auth.go", "codeChunk": "func Login()", "startLine": 3, "endLine": 9, "segmentHash": "h1",
			}},
			{"id": 42, "score": 0.5, "payload": map[string]any{"other": "schema"}},
		},
	}
	q := newTestQdrant(t, fake, 2)

	results, err := q.Search(ctx, []float32{1, 0}, "./src/api/", 0.4, 5)
	require.NoError(t, err)
	require.Len(t, results, 1, "points without our payload are skipped")
	assert.Equal(t, "7f0c1f9e-0000-0000-0000-000000000001", results[0].ID)
	assert.InDelta(t, 0.91, results[0].Score, 1e-9)
	assert.Equal(t, 3, results[0].Payload.StartLine)

	body := fake.body("POST /collections/ws-test/points/search")
	assert.InDelta(t, 0.4, body["score_threshold"], 1e-9)
	assert.Equal(t, float64(5), body["limit"])
	must := body["filter"].(map[string]any)["must"].([]any)
	require.Len(t, must, 2)
	assert.Equal(t, "pathSegments.1", must[1].(map[string]any)["key"])

	_, err = q.Search(ctx, []float32{1, 0}, ".", 0.4, 5)
	require.NoError(t, err)
	_, hasFilter := fake.body("POST /collections/ws-test/points/search")["filter"]
	assert.False(t, hasFilter)

	_, err = q.Search(ctx, []float32{1}, "", 0, 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantStore_Writes(t *testing.T) {
	ctx := context.Background()
	fake := &fakeQdrant{dimension: 2}
	q := newTestQdrant(t, fake, 2)

	require.NoError(t, q.UpsertPoints(ctx, []types.Point{point("7f0c1f9e-0000-0000-0000-000000000001", "src/a/b.go", 1, 0)}))
	body := fake.body("PUT /collections/ws-test/points")
	points := body["points"].([]any)
	payload := points[0].(map[string]any)["payload"].(map[string]any)
	assert.Equal(t, "src/a/b.go", payload["filePath"])
	assert.Equal(t, map[string]any{"0": "src", "1": "a", "2": "b.go"}, payload["pathSegments"])

	require.NoError(t, q.DeletePointsByMultipleFilePaths(ctx, []string{"x.go", "y.go"}))
	should := fake.body("POST /collections/ws-test/points/delete")["filter"].(map[string]any)["should"].([]any)
	assert.Len(t, should, 2)

	require.NoError(t, q.ClearCollection(ctx))
	require.NoError(t, q.DeleteCollection(ctx))
	require.NoError(t, q.DeleteCollection(ctx), "missing collection is not an error")

	exists, err := q.CollectionExists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.True(t, strings.HasPrefix(q.baseURL, "http://"))
	assert.False(t, strings.HasSuffix(q.baseURL, "/"))
}
