package config

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LoadConfiguration(t *testing.T) {
	ctx := context.Background()

	t.Run("first load of a ready config requires restart", func(t *testing.T) {
		store := &StaticStore{Settings: DefaultSettings}
		m := NewManager(store, MapSecrets{}, nil)
		assert.False(t, m.Loaded())

		res, err := m.LoadConfiguration(ctx)
		require.NoError(t, err)
		assert.True(t, res.RequiresRestart)
		assert.False(t, res.Snapshot.Config.Enabled, "snapshot is the state before reload")
		assert.Equal(t, EmbedderOllama, res.Current.EmbedderProvider)
		assert.True(t, m.Loaded())
		assert.True(t, m.IsFeatureEnabled())
		assert.True(t, m.IsConfigured())
	})

	t.Run("threshold change does not require restart", func(t *testing.T) {
		store := &StaticStore{Settings: DefaultSettings}
		m := NewManager(store, MapSecrets{}, nil)
		_, err := m.LoadConfiguration(ctx)
		require.NoError(t, err)

		store.Settings.Search.MinScore = 0.8
		res, err := m.LoadConfiguration(ctx)
		require.NoError(t, err)
		assert.False(t, res.RequiresRestart)
		assert.InDelta(t, 0.4, res.Snapshot.Config.SearchMinScore, 1e-9)
		assert.InDelta(t, 0.8, m.Current().SearchMinScore, 1e-9)
	})

	t.Run("secrets are refreshed on every load", func(t *testing.T) {
		settings := DefaultSettings
		settings.Embedder.Provider = EmbedderOpenAI
		settings.Embedder.ModelID = ""
		secrets := MapSecrets{}
		m := NewManager(&StaticStore{Settings: settings}, secrets, nil)

		res, err := m.LoadConfiguration(ctx)
		require.NoError(t, err)
		assert.False(t, res.RequiresRestart, "enabled but unconfigured")
		assert.False(t, m.IsConfigured())

		secrets[SecretOpenAIKey] = "sk-test"
		res, err = m.LoadConfiguration(ctx)
		require.NoError(t, err)
		assert.True(t, res.RequiresRestart)
		assert.Equal(t, "sk-test", res.Current.OpenAI.APIKey)
		assert.Equal(t, "text-embedding-3-small", res.Current.EffectiveModelID())
	})

	t.Run("invalid settings keep previous config", func(t *testing.T) {
		store := &StaticStore{Settings: DefaultSettings}
		m := NewManager(store, MapSecrets{}, nil)
		_, err := m.LoadConfiguration(ctx)
		require.NoError(t, err)

		store.Settings.Search.MinScore = 1.5
		_, err = m.LoadConfiguration(ctx)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.InDelta(t, 0.4, m.Current().SearchMinScore, 1e-9)

		store.Settings.Search.MinScore = 0.4
		store.Settings.Embedder.Provider = "word2vec"
		_, err = m.LoadConfiguration(ctx)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("rerank top k above top n is rejected", func(t *testing.T) {
		settings := DefaultSettings
		settings.Reranker.TopN = 10
		settings.Reranker.TopK = 20
		m := NewManager(&StaticStore{Settings: settings}, MapSecrets{}, nil)
		_, err := m.LoadConfiguration(ctx)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("store error", func(t *testing.T) {
		boom := errors.New("disk gone")
		m := NewManager(&StaticStore{Err: boom}, MapSecrets{}, nil)
		_, err := m.LoadConfiguration(ctx)
		assert.ErrorIs(t, err, boom)
		assert.False(t, m.Loaded())
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		m := NewManager(&StaticStore{Settings: DefaultSettings}, MapSecrets{}, nil)
		_, err := m.LoadConfiguration(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestBuild_Defaults(t *testing.T) {
	cfg := Build(Settings{Enabled: true}, MapSecrets{SecretQdrantKey: "q"})

	assert.Equal(t, EmbedderOllama, cfg.EmbedderProvider)
	assert.Equal(t, VectorStoreSQLite, cfg.VectorStoreProvider)
	assert.Equal(t, DefaultSearchMaxResults, cfg.SearchMaxResults)
	assert.Equal(t, DefaultRerankTopN, cfg.Reranker.TopN)
	assert.Equal(t, DefaultRerankTopK, cfg.Reranker.TopK)
	assert.Equal(t, "q", cfg.VectorStore.APIKey)
	assert.False(t, cfg.RerankingActive())
}
