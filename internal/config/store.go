package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Secret names, read from the environment by EnvSecrets
const (
	SecretOpenAIKey           = "OPENAI_API_KEY"
	SecretOpenAICompatibleKey = "CODEINDEX_OPENAI_COMPATIBLE_API_KEY"
	SecretGeminiKey           = "GEMINI_API_KEY"
	SecretMistralKey          = "MISTRAL_API_KEY"
	SecretQdrantKey           = "QDRANT_API_KEY"
	SecretRerankerKey         = "CODEINDEX_RERANKER_API_KEY"
)

// EnvPrefix prefixes environment overrides of persisted settings,
// e.g. CODEINDEX_EMBEDDER_PROVIDER
const EnvPrefix = "CODEINDEX"

// DefaultConfigName is the settings file looked up in the config directory
const DefaultConfigName = "codeindex"

// Settings are the persisted, non-secret settings
type Settings struct {
	Enabled     bool                `mapstructure:"enabled" yaml:"enabled"`
	Embedder    EmbedderSettings    `mapstructure:"embedder" yaml:"embedder"`
	VectorStore VectorStoreSettings `mapstructure:"vector_store" yaml:"vector_store"`
	Search      SearchSettings      `mapstructure:"search" yaml:"search"`
	Reranker    RerankerSettings    `mapstructure:"reranker" yaml:"reranker"`
}

// EmbedderSettings selects and locates the embedding provider
type EmbedderSettings struct {
	Provider                string `mapstructure:"provider" yaml:"provider"`
	ModelID                 string `mapstructure:"model_id" yaml:"model_id"`
	ModelDimension          int    `mapstructure:"model_dimension" yaml:"model_dimension"`
	OllamaBaseURL           string `mapstructure:"ollama_base_url" yaml:"ollama_base_url"`
	OpenAICompatibleBaseURL string `mapstructure:"openai_compatible_base_url" yaml:"openai_compatible_base_url"`
}

// VectorStoreSettings selects and locates the vector store
type VectorStoreSettings struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Path     string `mapstructure:"path" yaml:"path"`
	URL      string `mapstructure:"url" yaml:"url"`
}

// SearchSettings tunes result filtering
type SearchSettings struct {
	MinScore   float64 `mapstructure:"min_score" yaml:"min_score"`
	MaxResults int     `mapstructure:"max_results" yaml:"max_results"`
}

// RerankerSettings configures second-stage ranking
type RerankerSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	URL      string `mapstructure:"url" yaml:"url"`
	Model    string `mapstructure:"model" yaml:"model"`
	TopN     int    `mapstructure:"top_n" yaml:"top_n"`
	TopK     int    `mapstructure:"top_k" yaml:"top_k"`
}

// DefaultSettings values
var DefaultSettings = Settings{
	Enabled: true,
	Embedder: EmbedderSettings{
		Provider:      EmbedderOllama,
		ModelID:       DefaultModel(EmbedderOllama),
		OllamaBaseURL: DefaultOllamaBaseURL,
	},
	VectorStore: VectorStoreSettings{
		Provider: VectorStoreSQLite,
	},
	Search: SearchSettings{
		MinScore:   DefaultSearchMinScore,
		MaxResults: DefaultSearchMaxResults,
	},
	Reranker: RerankerSettings{
		Provider: RerankerLocal,
		URL:      DefaultRerankerURL,
		TopN:     DefaultRerankTopN,
		TopK:     DefaultRerankTopK,
	},
}

// SettingsStore loads persisted settings. Every call reflects the current
// persisted state.
type SettingsStore interface {
	Load() (Settings, error)
}

// SecretStore resolves credentials by name
type SecretStore interface {
	Secret(name string) string
}

// EnvSecrets reads secrets from environment variables
type EnvSecrets struct{}

// Secret implements SecretStore
func (EnvSecrets) Secret(name string) string {
	return os.Getenv(name)
}

// MapSecrets serves secrets from a map
type MapSecrets map[string]string

// Secret implements SecretStore
func (m MapSecrets) Secret(name string) string {
	return m[name]
}

// ViperStore reads settings from an optional YAML file, CODEINDEX_*
// environment variables and defaults
type ViperStore struct {
	v *viper.Viper
}

// NewViperStore creates a store. configFile may be empty, in which case
// codeindex.yaml is looked up in configDir.
func NewViperStore(configFile, configDir string) *ViperStore {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		if configDir != "" {
			v.AddConfigPath(configDir)
		}
	}

	return &ViperStore{v: v}
}

// Viper exposes the underlying instance for flag binding
func (s *ViperStore) Viper() *viper.Viper {
	return s.v
}

// Load implements SettingsStore. A missing settings file is not an error.
func (s *ViperStore) Load() (Settings, error) {
	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("%w: %v", ErrLoadSettings, err)
		}
	}

	var settings Settings
	if err := s.v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("%w: decode: %v", ErrLoadSettings, err)
	}
	return settings, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper) {
	d := DefaultSettings
	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("embedder.provider", d.Embedder.Provider)
	v.SetDefault("embedder.model_id", d.Embedder.ModelID)
	v.SetDefault("embedder.model_dimension", d.Embedder.ModelDimension)
	v.SetDefault("embedder.ollama_base_url", d.Embedder.OllamaBaseURL)
	v.SetDefault("embedder.openai_compatible_base_url", d.Embedder.OpenAICompatibleBaseURL)
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.path", d.VectorStore.Path)
	v.SetDefault("vector_store.url", d.VectorStore.URL)
	v.SetDefault("search.min_score", d.Search.MinScore)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("reranker.enabled", d.Reranker.Enabled)
	v.SetDefault("reranker.provider", d.Reranker.Provider)
	v.SetDefault("reranker.url", d.Reranker.URL)
	v.SetDefault("reranker.model", d.Reranker.Model)
	v.SetDefault("reranker.top_n", d.Reranker.TopN)
	v.SetDefault("reranker.top_k", d.Reranker.TopK)
}

// StaticStore serves fixed settings
type StaticStore struct {
	Settings Settings
	Err      error
}

// Load implements SettingsStore
func (s *StaticStore) Load() (Settings, error) {
	return s.Settings, s.Err
}

// WriteDefaults writes DefaultSettings as YAML to path. Existing files are
// left alone unless overwrite is set.
func WriteDefaults(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("settings file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(DefaultSettings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
