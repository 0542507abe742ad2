package config

import "errors"

// Embedder providers
const (
	EmbedderOpenAI           = "openai"
	EmbedderOpenAICompatible = "openai-compatible"
	EmbedderOllama           = "ollama"
	EmbedderGemini           = "gemini"
	EmbedderMistral          = "mistral"
)

// Vector store providers
const (
	VectorStoreSQLite = "sqlite"
	VectorStoreBolt   = "bolt"
	VectorStoreQdrant = "qdrant"
)

// Reranker providers
const (
	RerankerLocal  = "local"
	RerankerCohere = "cohere"
)

// Search and rerank defaults
const (
	DefaultSearchMinScore   = 0.4
	DefaultSearchMaxResults = 50
	DefaultRerankTopN       = 50
	DefaultRerankTopK       = 20
	DefaultOllamaBaseURL    = "http://localhost:11434"
	DefaultRerankerURL      = "http://localhost:8080"
)

var (
	ErrInvalidConfig = errors.New("invalid code index configuration")
	ErrLoadSettings  = errors.New("failed to load settings")
)

// Config is an immutable snapshot of the code index configuration. It is
// rebuilt wholesale on every load and passed by value.
type Config struct {
	Enabled bool

	EmbedderProvider string `validate:"required,oneof=openai openai-compatible ollama gemini mistral"`
	ModelID          string
	ModelDimension   int `validate:"gte=0"` // Explicit override, 0 means use the model profile

	OpenAI           OpenAIConfig
	OpenAICompatible OpenAICompatibleConfig
	Ollama           OllamaConfig
	Gemini           APIKeyConfig
	Mistral          APIKeyConfig

	VectorStoreProvider string `validate:"required,oneof=sqlite bolt qdrant"`
	VectorStore         VectorStoreConfig

	SearchMinScore   float64 `validate:"gte=0,lte=1"`
	SearchMaxResults int     `validate:"gte=1,lte=1000"`

	Reranker RerankerConfig
}

// OpenAIConfig holds OpenAI credentials
type OpenAIConfig struct {
	APIKey string
}

// OpenAICompatibleConfig holds an OpenAI-compatible endpoint
type OpenAICompatibleConfig struct {
	BaseURL string `validate:"omitempty,url"`
	APIKey  string
}

// OllamaConfig holds the Ollama endpoint
type OllamaConfig struct {
	BaseURL string `validate:"omitempty,url"`
}

// APIKeyConfig holds a single API key
type APIKeyConfig struct {
	APIKey string
}

// VectorStoreConfig holds connection info for the active vector store.
// Path is used by the embedded stores, URL and APIKey by Qdrant.
type VectorStoreConfig struct {
	Path   string
	URL    string `validate:"omitempty,url"`
	APIKey string
}

// RerankerConfig configures optional second-stage ranking
type RerankerConfig struct {
	Enabled  bool
	Provider string `validate:"omitempty,oneof=local cohere"`
	URL      string `validate:"omitempty,url"`
	APIKey   string
	Model    string
	TopN     int `validate:"gte=1"`                // Candidates fetched from the vector store
	TopK     int `validate:"gte=1,ltefield=TopN"` // Results kept after reranking
}

// Snapshot is the state captured before a reload and diffed against the
// reloaded config
type Snapshot struct {
	Config     Config
	Configured bool
}

// Capture takes a snapshot of cfg
func Capture(cfg Config) Snapshot {
	return Snapshot{Config: cfg, Configured: IsConfigured(cfg)}
}

// Ready reports whether the index would run with this snapshot
func (s Snapshot) Ready() bool {
	return s.Config.Enabled && s.Configured
}

// EffectiveModelID returns the configured model or the provider default
func (c Config) EffectiveModelID() string {
	if c.ModelID != "" {
		return c.ModelID
	}
	return DefaultModel(c.EmbedderProvider)
}

// Dimension returns the vector dimension for the active model, or 0 when
// neither an override nor a profile is known
func (c Config) Dimension() int {
	if c.ModelDimension > 0 {
		return c.ModelDimension
	}
	return ModelDimension(c.EmbedderProvider, c.EffectiveModelID())
}

// RerankingActive reports whether searches should be reranked
func (c Config) RerankingActive() bool {
	return c.Reranker.Enabled && c.Reranker.Provider != ""
}

// IsConfigured reports whether the active embedder has its credentials and
// the active vector store its connection info. Embedded stores are always
// configured.
func IsConfigured(c Config) bool {
	return embedderConfigured(c) && vectorStoreConfigured(c)
}

func embedderConfigured(c Config) bool {
	switch c.EmbedderProvider {
	case EmbedderOpenAI:
		return c.OpenAI.APIKey != ""
	case EmbedderOpenAICompatible:
		return c.OpenAICompatible.BaseURL != "" && c.OpenAICompatible.APIKey != ""
	case EmbedderOllama:
		return c.Ollama.BaseURL != ""
	case EmbedderGemini:
		return c.Gemini.APIKey != ""
	case EmbedderMistral:
		return c.Mistral.APIKey != ""
	default:
		return false
	}
}

func vectorStoreConfigured(c Config) bool {
	switch c.VectorStoreProvider {
	case VectorStoreSQLite, VectorStoreBolt:
		return true
	case VectorStoreQdrant:
		return c.VectorStore.URL != ""
	default:
		return false
	}
}
