package config

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
)

// LoadResult is returned by LoadConfiguration
type LoadResult struct {
	Snapshot        Snapshot // State before the reload
	Current         Config   // Reloaded config
	RequiresRestart bool
}

// Manager owns the current Config. The config is only replaced as a whole.
type Manager struct {
	mu       sync.RWMutex
	store    SettingsStore
	secrets  SecretStore
	current  Config
	loaded   bool
	validate *validator.Validate
	logger   *slog.Logger
}

// NewManager creates a manager. Nothing is loaded until LoadConfiguration.
func NewManager(store SettingsStore, secrets SecretStore, logger *slog.Logger) *Manager {
	if secrets == nil {
		secrets = EnvSecrets{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		secrets:  secrets,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "config")),
	}
}

// LoadConfiguration refreshes secrets, rebuilds the config from persisted
// settings and reports whether the change requires a restart. On error the
// previous config stays in effect.
func (m *Manager) LoadConfiguration(ctx context.Context) (*LoadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings, err := m.store.Load()
	if err != nil {
		return nil, err
	}

	next := Build(settings, m.secrets)
	if err := m.validate.Struct(next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	m.mu.Lock()
	prev := Capture(m.current)
	m.current = next
	m.loaded = true
	m.mu.Unlock()

	restart := RequiresRestart(prev, Capture(next))
	m.logger.Debug("configuration loaded",
		slog.Bool("enabled", next.Enabled),
		slog.Bool("configured", IsConfigured(next)),
		slog.String("embedder", next.EmbedderProvider),
		slog.String("vector_store", next.VectorStoreProvider),
		slog.Bool("requires_restart", restart))

	return &LoadResult{Snapshot: prev, Current: next, RequiresRestart: restart}, nil
}

// Current returns the current config
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Loaded reports whether a configuration has been loaded
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// IsFeatureEnabled reports whether the index is switched on
func (m *Manager) IsFeatureEnabled() bool {
	return m.Current().Enabled
}

// IsConfigured reports whether the current config has the credentials and
// connection info its providers need
func (m *Manager) IsConfigured() bool {
	return IsConfigured(m.Current())
}

// Build derives a Config from settings and secrets. Zero numeric settings
// fall back to defaults.
func Build(s Settings, secrets SecretStore) Config {
	cfg := Config{
		Enabled:          s.Enabled,
		EmbedderProvider: s.Embedder.Provider,
		ModelID:          s.Embedder.ModelID,
		ModelDimension:   s.Embedder.ModelDimension,
		OpenAI:           OpenAIConfig{APIKey: secrets.Secret(SecretOpenAIKey)},
		OpenAICompatible: OpenAICompatibleConfig{
			BaseURL: s.Embedder.OpenAICompatibleBaseURL,
			APIKey:  secrets.Secret(SecretOpenAICompatibleKey),
		},
		Ollama:              OllamaConfig{BaseURL: s.Embedder.OllamaBaseURL},
		Gemini:              APIKeyConfig{APIKey: secrets.Secret(SecretGeminiKey)},
		Mistral:             APIKeyConfig{APIKey: secrets.Secret(SecretMistralKey)},
		VectorStoreProvider: s.VectorStore.Provider,
		VectorStore: VectorStoreConfig{
			Path:   s.VectorStore.Path,
			URL:    s.VectorStore.URL,
			APIKey: secrets.Secret(SecretQdrantKey),
		},
		SearchMinScore:   s.Search.MinScore,
		SearchMaxResults: s.Search.MaxResults,
		Reranker: RerankerConfig{
			Enabled:  s.Reranker.Enabled,
			Provider: s.Reranker.Provider,
			URL:      s.Reranker.URL,
			APIKey:   secrets.Secret(SecretRerankerKey),
			Model:    s.Reranker.Model,
			TopN:     s.Reranker.TopN,
			TopK:     s.Reranker.TopK,
		},
	}

	if cfg.EmbedderProvider == "" {
		cfg.EmbedderProvider = DefaultSettings.Embedder.Provider
	}
	if cfg.VectorStoreProvider == "" {
		cfg.VectorStoreProvider = VectorStoreSQLite
	}
	if cfg.SearchMaxResults == 0 {
		cfg.SearchMaxResults = DefaultSearchMaxResults
	}
	if cfg.Reranker.TopN == 0 {
		cfg.Reranker.TopN = DefaultRerankTopN
	}
	if cfg.Reranker.TopK == 0 {
		cfg.Reranker.TopK = min(DefaultRerankTopK, cfg.Reranker.TopN)
	}
	return cfg
}
