package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViperStore_Defaults(t *testing.T) {
	store := NewViperStore("", t.TempDir())

	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings, s)
}

func TestViperStore_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codeindex.yaml")
	content := `enabled: true
embedder:
  provider: openai
  model_id: text-embedding-3-large
search:
  min_score: 0.25
reranker:
  enabled: true
  top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("CODEINDEX_SEARCH_MAX_RESULTS", "12")

	store := NewViperStore(path, "")
	s, err := store.Load()
	require.NoError(t, err)

	assert.Equal(t, EmbedderOpenAI, s.Embedder.Provider)
	assert.Equal(t, "text-embedding-3-large", s.Embedder.ModelID)
	assert.InDelta(t, 0.25, s.Search.MinScore, 1e-9)
	assert.Equal(t, 12, s.Search.MaxResults)
	assert.True(t, s.Reranker.Enabled)
	assert.Equal(t, 5, s.Reranker.TopK)
	assert.Equal(t, DefaultRerankTopN, s.Reranker.TopN)

	// Reloads pick up file edits
	require.NoError(t, os.WriteFile(path, []byte("enabled: false\n"), 0o644))
	s, err = store.Load()
	require.NoError(t, err)
	assert.False(t, s.Enabled)
}

func TestViperStore_MissingExplicitFile(t *testing.T) {
	store := NewViperStore(filepath.Join(t.TempDir(), "absent.yaml"), "")
	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings.Embedder.Provider, s.Embedder.Provider)
}

func TestViperStore_BrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codeindex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enabled: [\n"), 0o644))

	_, err := NewViperStore(path, "").Load()
	assert.ErrorIs(t, err, ErrLoadSettings)
}

func TestWriteDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "codeindex.yaml")
	require.NoError(t, WriteDefaults(path, false))

	s, err := NewViperStore(path, "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings, s)

	assert.Error(t, WriteDefaults(path, false))
	assert.NoError(t, WriteDefaults(path, true))
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv(SecretGeminiKey, "g-key")
	assert.Equal(t, "g-key", EnvSecrets{}.Secret(SecretGeminiKey))
	assert.Equal(t, "", MapSecrets{}.Secret(SecretGeminiKey))
}
