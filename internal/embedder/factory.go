package embedder

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/dshills/codeindex/internal/config"
)

// Option customizes embedders built by New
type Option func(*factoryOptions)

type factoryOptions struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cacheSize  int
	retry      RetryConfig
	logger     *slog.Logger
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *factoryOptions) { o.httpClient = c }
}

// WithRateLimiter sets the client-side request limiter
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *factoryOptions) { o.limiter = l }
}

// WithCacheSize sets the LRU size. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(o *factoryOptions) { o.cacheSize = n }
}

// WithRetry overrides the retry policy
func WithRetry(r RetryConfig) Option {
	return func(o *factoryOptions) { o.retry = r }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *factoryOptions) { o.logger = l }
}

// New creates the embedder selected by cfg
func New(cfg config.Config, opts ...Option) (Embedder, error) {
	o := factoryOptions{
		cacheSize: 10000,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: RequestTimeout}
	}
	if o.limiter == nil {
		o.limiter = rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	provider := strings.ToLower(cfg.EmbedderProvider)
	base := client{
		name:       provider,
		model:      cfg.EffectiveModelID(),
		dimension:  cfg.Dimension(),
		httpClient: o.httpClient,
		limiter:    o.limiter,
		retry:      o.retry,
		logger:     o.logger.With(slog.String("component", "embedder"), slog.String("provider", provider)),
	}
	if base.model == "" {
		return nil, fmt.Errorf("%w: no model for provider %s", ErrNotConfigured, provider)
	}

	var e Embedder
	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNotConfigured, config.SecretOpenAIKey)
		}
		e = &OpenAIProvider{client: base, baseURL: OpenAIBaseURL, apiKey: cfg.OpenAI.APIKey}
	case ProviderOpenAICompatible:
		if cfg.OpenAICompatible.BaseURL == "" || cfg.OpenAICompatible.APIKey == "" {
			return nil, fmt.Errorf("%w: openai-compatible needs a base URL and %s", ErrNotConfigured, config.SecretOpenAICompatibleKey)
		}
		e = &OpenAIProvider{
			client:  base,
			baseURL: strings.TrimRight(cfg.OpenAICompatible.BaseURL, "/"),
			apiKey:  cfg.OpenAICompatible.APIKey,
		}
	case ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNotConfigured, config.SecretGeminiKey)
		}
		e = &OpenAIProvider{client: base, baseURL: GeminiBaseURL, apiKey: cfg.Gemini.APIKey}
	case ProviderMistral:
		if cfg.Mistral.APIKey == "" {
			return nil, fmt.Errorf("%w: %s not set", ErrNotConfigured, config.SecretMistralKey)
		}
		e = &OpenAIProvider{client: base, baseURL: MistralBaseURL, apiKey: cfg.Mistral.APIKey}
	case ProviderOllama:
		if cfg.Ollama.BaseURL == "" {
			return nil, fmt.Errorf("%w: ollama base URL not set", ErrNotConfigured)
		}
		e = &OllamaProvider{client: base, baseURL: strings.TrimRight(cfg.Ollama.BaseURL, "/")}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.EmbedderProvider)
	}

	if o.cacheSize > 0 {
		return NewCachedEmbedder(e, NewCache(o.cacheSize)), nil
	}
	return e, nil
}
