package searcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/embedder"
	"github.com/dshills/codeindex/internal/reranker"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/telemetry"
	"github.com/dshills/codeindex/pkg/types"
)

type fakeConfig struct {
	enabled    bool
	configured bool
	cfg        config.Config
}

func (f *fakeConfig) IsFeatureEnabled() bool { return f.enabled }
func (f *fakeConfig) IsConfigured() bool     { return f.configured }
func (f *fakeConfig) Current() config.Config { return f.cfg }

type fakeState struct {
	mu      sync.Mutex
	state   types.IndexState
	message string
}

func (f *fakeState) State() types.IndexState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeState) SetSystemState(state types.IndexState, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state, f.message = state, message
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) CreateEmbeddings(_ context.Context, texts []string) (*embedder.EmbeddingResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vector == nil {
		return &embedder.EmbeddingResponse{}, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return &embedder.EmbeddingResponse{Embeddings: out}, nil
}

func (f *fakeEmbedder) Validate(context.Context) error { return nil }
func (f *fakeEmbedder) Provider() string               { return "fake" }
func (f *fakeEmbedder) Model() string                  { return "fake-model" }
func (f *fakeEmbedder) Dimension() int                 { return len(f.vector) }

// fakeStore implements only Search; other methods panic through the nil interface
type fakeStore struct {
	storage.VectorStore
	results   []types.SearchResult
	err       error
	gotPrefix string
	gotMin    float64
	gotLimit  int
}

func (f *fakeStore) Search(_ context.Context, _ []float32, prefix string, minScore float64, limit int) ([]types.SearchResult, error) {
	f.gotPrefix, f.gotMin, f.gotLimit = prefix, minScore, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeReranker struct {
	ranked []reranker.Ranked
	err    error
	calls  int
	gotK   int
}

func (f *fakeReranker) Rerank(_ context.Context, _ string, _ []reranker.Candidate, topK int) ([]reranker.Ranked, error) {
	f.calls++
	f.gotK = topK
	return f.ranked, f.err
}

func (f *fakeReranker) Health(context.Context) error { return nil }

func hit(id string, score float64, path string) types.SearchResult {
	return types.SearchResult{
		ID:    id,
		Score: score,
		Payload: &types.Payload{
			FilePath:  path,
			CodeChunk: "code of " + id,
			StartLine: 1,
			EndLine:   10,
		},
	}
}

func threeHits() []types.SearchResult {
	return []types.SearchResult{
		hit("a", 0.9, "src/auth/login.go"),
		hit("b", 0.8, "src/auth/session.go"),
		hit("c", 0.7, "src/user.go"),
	}
}

func baseConfig(rerank bool) config.Config {
	return config.Config{
		Enabled:          true,
		SearchMinScore:   0.4,
		SearchMaxResults: 50,
		Reranker: config.RerankerConfig{
			Enabled:  rerank,
			Provider: config.RerankerLocal,
			TopN:     30,
			TopK:     2,
		},
	}
}

type fixture struct {
	cfg      *fakeConfig
	state    *fakeState
	emb      *fakeEmbedder
	store    *fakeStore
	reranker *fakeReranker
	sink     *telemetry.Recorder
	svc      *Service
}

func newFixture(rerank bool) *fixture {
	f := &fixture{
		cfg:      &fakeConfig{enabled: true, configured: true, cfg: baseConfig(rerank)},
		state:    &fakeState{state: types.StateIndexed},
		emb:      &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}},
		store:    &fakeStore{results: threeHits()},
		reranker: &fakeReranker{},
		sink:     telemetry.NewRecorder(),
	}
	f.svc = New(f.cfg, f.state, f.emb, f.store, WithReranker(f.reranker), WithTelemetry(f.sink))
	return f
}

func TestSearchIndex_NotConfigured(t *testing.T) {
	f := newFixture(false)
	f.cfg.enabled = false
	_, err := f.svc.SearchIndex(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	f.cfg.enabled, f.cfg.configured = true, false
	_, err = f.svc.SearchIndex(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSearchIndex_StateGate(t *testing.T) {
	tests := []struct {
		state types.IndexState
		ok    bool
	}{
		{types.StateIndexed, true},
		{types.StateIndexing, true},
		{types.StateStandby, false},
		{types.StateError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			f := newFixture(false)
			f.state.state = tt.state
			res, err := f.svc.SearchIndex(context.Background(), "q", "")
			if tt.ok {
				require.NoError(t, err)
				assert.Len(t, res, 3)
				return
			}
			var se *StateError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.state, se.State)
			assert.Contains(t, err.Error(), string(tt.state))
		})
	}
}

func TestSearchIndex_PassesLimits(t *testing.T) {
	f := newFixture(false)
	_, err := f.svc.SearchIndex(context.Background(), "q", "src/auth")
	require.NoError(t, err)
	assert.Equal(t, "src/auth", f.store.gotPrefix)
	assert.InDelta(t, 0.4, f.store.gotMin, 1e-9)
	assert.Equal(t, 50, f.store.gotLimit)
	assert.Zero(t, f.reranker.calls)

	f = newFixture(true)
	_, err = f.svc.SearchIndex(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, 30, f.store.gotLimit)
	assert.Equal(t, 2, f.reranker.gotK)
}

func TestSearchIndex_EmbeddingFailure(t *testing.T) {
	f := newFixture(false)
	f.emb.err = errors.New("provider down")
	_, err := f.svc.SearchIndex(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, types.StateError, f.state.State())
	assert.Contains(t, f.state.message, "provider down")
	require.Len(t, f.sink.Events(), 1)
	assert.Equal(t, "searcher.embed", f.sink.Events()[0].Location)

	f = newFixture(false)
	f.emb.vector = nil
	_, err = f.svc.SearchIndex(context.Background(), "q", "")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, types.StateError, f.state.State())
}

func TestSearchIndex_StoreFailure(t *testing.T) {
	f := newFixture(false)
	cause := errors.New("disk gone")
	f.store.err = cause
	_, err := f.svc.SearchIndex(context.Background(), "q", "")

	var se *SearchError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, types.StateError, f.state.State())
	require.Len(t, f.sink.Events(), 1)
	assert.Equal(t, "searcher.search", f.sink.Events()[0].Location)
}

func TestSearchIndex_Reranked(t *testing.T) {
	f := newFixture(true)
	f.cfg.cfg.Reranker.TopK = 20
	f.reranker.ranked = []reranker.Ranked{
		{ID: "c", Score: 0.99, Rank: 1},
		{ID: "a", Score: 0.42, Rank: 2},
	}

	res, err := f.svc.SearchIndex(context.Background(), "find authentication logic", "")
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.Equal(t, "c", res[0].ID)
	assert.InDelta(t, 0.99, res[0].Score, 1e-9)
	assert.Equal(t, "src/user.go", res[0].Payload.FilePath)
	assert.Equal(t, "code of c", res[0].Payload.CodeChunk)

	assert.Equal(t, "a", res[1].ID)
	assert.InDelta(t, 0.42, res[1].Score, 1e-9)
	assert.Equal(t, "src/auth/login.go", res[1].Payload.FilePath)
	assert.Empty(t, f.sink.Events())
}

func TestSearchIndex_RerankerFailureFallsBack(t *testing.T) {
	f := newFixture(true)
	f.reranker.err = errors.New("reranker timeout")

	res, err := f.svc.SearchIndex(context.Background(), "q", "")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "a", res[0].ID)
	assert.InDelta(t, 0.9, res[0].Score, 1e-9)
	assert.Equal(t, "b", res[1].ID)
	assert.InDelta(t, 0.8, res[1].Score, 1e-9)

	assert.Equal(t, types.StateIndexed, f.state.State())
	require.Len(t, f.sink.Events(), 1)
	assert.Equal(t, "searcher.rerank", f.sink.Events()[0].Location)
	assert.Contains(t, f.sink.Events()[0].Error, "reranker timeout")
}

func TestSearchIndex_RerankDisabledOrMissing(t *testing.T) {
	f := newFixture(true)
	f.svc = New(f.cfg, f.state, f.emb, f.store)
	res, err := f.svc.SearchIndex(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Len(t, res, 3)
	assert.Equal(t, 50, f.store.gotLimit)
}

func TestSearchIndex_NoCandidatesSkipsRerank(t *testing.T) {
	f := newFixture(true)
	f.store.results = nil
	res, err := f.svc.SearchIndex(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Zero(t, f.reranker.calls)
}
