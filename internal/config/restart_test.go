package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func readyOpenAI() Config {
	return Config{
		Enabled:             true,
		EmbedderProvider:    EmbedderOpenAI,
		ModelID:             "text-embedding-3-small",
		OpenAI:              OpenAIConfig{APIKey: "sk-1"},
		VectorStoreProvider: VectorStoreSQLite,
		SearchMinScore:      0.4,
		SearchMaxResults:    50,
		Reranker:            RerankerConfig{TopN: 50, TopK: 20},
	}
}

func TestRequiresRestart(t *testing.T) {
	tests := []struct {
		name   string
		prev   func() Config
		mutate func(*Config)
		want   bool
	}{
		{
			name:   "disabled to enabled and configured",
			prev:   func() Config { c := readyOpenAI(); c.Enabled = false; return c },
			mutate: func(c *Config) { c.Enabled = true },
			want:   true,
		},
		{
			name:   "unconfigured to configured",
			prev:   func() Config { c := readyOpenAI(); c.OpenAI.APIKey = ""; return c },
			mutate: func(c *Config) { c.OpenAI.APIKey = "sk-1" },
			want:   true,
		},
		{
			name:   "enabled to disabled",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.Enabled = false },
			want:   true,
		},
		{
			name:   "not ready before and still not ready",
			prev:   func() Config { c := readyOpenAI(); c.OpenAI.APIKey = ""; return c },
			mutate: func(c *Config) { c.SearchMinScore = 0.7 },
			want:   false,
		},
		{
			name:   "disabled and still disabled with provider change",
			prev:   func() Config { c := readyOpenAI(); c.Enabled = false; return c },
			mutate: func(c *Config) { c.EmbedderProvider = EmbedderOllama },
			want:   false,
		},
		{
			name:   "embedder provider change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.EmbedderProvider = EmbedderGemini; c.Gemini.APIKey = "g" },
			want:   true,
		},
		{
			name:   "vector store provider change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.VectorStoreProvider = VectorStoreBolt },
			want:   true,
		},
		{
			name:   "api key change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.OpenAI.APIKey = "sk-2" },
			want:   true,
		},
		{
			name:   "inactive provider base url change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.Ollama.BaseURL = "http://other:11434" },
			want:   true,
		},
		{
			name:   "explicit dimension change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.ModelDimension = 512 },
			want:   true,
		},
		{
			name: "qdrant connection change",
			prev: func() Config {
				c := readyOpenAI()
				c.VectorStoreProvider = VectorStoreQdrant
				c.VectorStore.URL = "http://localhost:6333"
				return c
			},
			mutate: func(c *Config) { c.VectorStore.APIKey = "q" },
			want:   true,
		},
		{
			name:   "embedded store path change",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.VectorStore.Path = "/tmp/other" },
			want:   true,
		},
		{
			name:   "model swap with different dimension",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.ModelID = "text-embedding-3-large" },
			want:   true,
		},
		{
			name:   "model swap with same dimension",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.ModelID = "text-embedding-ada-002" },
			want:   false,
		},
		{
			name:   "unknown model swap",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.ModelID = "custom-model" },
			want:   false,
		},
		{
			name:   "search min score only",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.SearchMinScore = 0.55 },
			want:   false,
		},
		{
			name:   "reranker settings only",
			prev:   readyOpenAI,
			mutate: func(c *Config) { c.Reranker.Enabled = true; c.Reranker.Provider = RerankerLocal },
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tt.prev()
			next := prev
			tt.mutate(&next)
			assert.Equal(t, tt.want, RequiresRestart(Capture(prev), Capture(next)))
		})
	}
}

func TestIsConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"openai with key", Config{EmbedderProvider: EmbedderOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}, VectorStoreProvider: VectorStoreSQLite}, true},
		{"openai without key", Config{EmbedderProvider: EmbedderOpenAI, VectorStoreProvider: VectorStoreSQLite}, false},
		{"ollama with url", Config{EmbedderProvider: EmbedderOllama, Ollama: OllamaConfig{BaseURL: "http://x"}, VectorStoreProvider: VectorStoreBolt}, true},
		{"compatible needs url and key", Config{EmbedderProvider: EmbedderOpenAICompatible, OpenAICompatible: OpenAICompatibleConfig{BaseURL: "http://x"}, VectorStoreProvider: VectorStoreSQLite}, false},
		{"compatible complete", Config{EmbedderProvider: EmbedderOpenAICompatible, OpenAICompatible: OpenAICompatibleConfig{BaseURL: "http://x", APIKey: "k"}, VectorStoreProvider: VectorStoreSQLite}, true},
		{"gemini", Config{EmbedderProvider: EmbedderGemini, Gemini: APIKeyConfig{APIKey: "k"}, VectorStoreProvider: VectorStoreSQLite}, true},
		{"mistral without key", Config{EmbedderProvider: EmbedderMistral, VectorStoreProvider: VectorStoreSQLite}, false},
		{"qdrant without url", Config{EmbedderProvider: EmbedderOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}, VectorStoreProvider: VectorStoreQdrant}, false},
		{"qdrant with url", Config{EmbedderProvider: EmbedderOpenAI, OpenAI: OpenAIConfig{APIKey: "k"}, VectorStoreProvider: VectorStoreQdrant, VectorStore: VectorStoreConfig{URL: "http://q"}}, true},
		{"unknown provider", Config{EmbedderProvider: "nope", VectorStoreProvider: VectorStoreSQLite}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfigured(tt.cfg))
		})
	}
}

func TestDimension(t *testing.T) {
	c := Config{EmbedderProvider: EmbedderOllama}
	assert.Equal(t, "nomic-embed-text", c.EffectiveModelID())
	assert.Equal(t, 768, c.Dimension())

	c.ModelDimension = 1024
	assert.Equal(t, 1024, c.Dimension())

	c = Config{EmbedderProvider: EmbedderOpenAICompatible, ModelID: "unknown"}
	assert.Equal(t, 0, c.Dimension())
}
