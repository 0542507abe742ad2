package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider names
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai-compatible"
	ProviderOllama           = "ollama"
	ProviderGemini           = "gemini"
	ProviderMistral          = "mistral"
)

// Provider endpoints
const (
	OpenAIBaseURL  = "https://api.openai.com/v1"
	GeminiBaseURL  = "https://generativelanguage.googleapis.com/v1beta/openai"
	MistralBaseURL = "https://api.mistral.ai/v1"
)

// Request limits and retry configuration
const (
	MaxBatchSize     = 100
	MaxBatchTokens   = 100000
	MaxItemTokens    = 8191
	RequestTimeout   = 60 * time.Second
	DefaultRateLimit = 10 // Requests per second

	MaxRetries        = 3
	InitialBackoffMs  = 500
	MaxBackoffMs      = 10000
	BackoffMultiplier = 2.0

	maxErrorBody = 4096
)

// client holds what every HTTP provider shares
type client struct {
	name       string
	model      string
	dimension  int
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryConfig
	logger     *slog.Logger
}

// postJSON sends body to url and decodes a 2xx response into out
func (c *client) postJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: c.name, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// embedBatches splits texts, calls fn per batch with retry and joins the
// results in order
func (c *client) embedBatches(ctx context.Context, texts []string, fn func([]string) (*EmbeddingResponse, error)) (*EmbeddingResponse, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}
	batches, err := splitBatches(texts, MaxBatchSize, MaxBatchTokens, MaxItemTokens)
	if err != nil {
		return nil, err
	}

	out := &EmbeddingResponse{Embeddings: make([][]float32, 0, len(texts))}
	for _, batch := range batches {
		resp, err := retryWithBackoff(ctx, c.retry, func() (*EmbeddingResponse, error) {
			return fn(batch)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, c.name, err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", ErrProviderFailed, c.name, len(resp.Embeddings), len(batch))
		}
		for _, v := range resp.Embeddings {
			if c.dimension > 0 && len(v) != c.dimension {
				return nil, fmt.Errorf("%w: %s returned %d, expected %d", ErrDimensionMismatch, c.name, len(v), c.dimension)
			}
		}
		out.Embeddings = append(out.Embeddings, resp.Embeddings...)
		out.Usage.PromptTokens += resp.Usage.PromptTokens
		out.Usage.TotalTokens += resp.Usage.TotalTokens
	}

	c.logger.Debug("created embeddings",
		slog.Int("texts", len(texts)),
		slog.Int("batches", len(batches)),
		slog.Int("tokens", out.Usage.TotalTokens))
	return out, nil
}

func (c *client) Provider() string { return c.name }
func (c *client) Model() string    { return c.model }
func (c *client) Dimension() int   { return c.dimension }

// OpenAIProvider talks to the OpenAI embeddings API and the compatible
// endpoints of other vendors
type OpenAIProvider struct {
	client
	baseURL string
	apiKey  string
}

func (o *OpenAIProvider) CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	return o.embedBatches(ctx, texts, func(batch []string) (*EmbeddingResponse, error) {
		return o.callAPI(ctx, batch)
	})
}

func (o *OpenAIProvider) callAPI(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	reqBody := map[string]any{
		"input":           texts,
		"model":           o.model,
		"encoding_format": "float",
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := o.postJSON(ctx, o.baseURL+"/embeddings", headers, reqBody, &apiResp); err != nil {
		return nil, err
	}

	// Data may arrive out of order
	vectors := make([][]float32, len(texts))
	for _, d := range apiResp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrProviderFailed, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: missing embedding for text %d", ErrProviderFailed, i)
		}
	}

	return &EmbeddingResponse{
		Embeddings: vectors,
		Usage: Usage{
			PromptTokens: apiResp.Usage.PromptTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
	}, nil
}

// Validate implements Embedder
func (o *OpenAIProvider) Validate(ctx context.Context) error {
	_, err := o.CreateEmbeddings(ctx, []string{"test"})
	return err
}

// OllamaProvider talks to a local Ollama server
type OllamaProvider struct {
	client
	baseURL string
}

func (p *OllamaProvider) CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	return p.embedBatches(ctx, texts, func(batch []string) (*EmbeddingResponse, error) {
		return p.callAPI(ctx, batch)
	})
}

func (p *OllamaProvider) callAPI(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	reqBody := map[string]any{
		"model": p.model,
		"input": texts,
	}

	var apiResp struct {
		Embeddings      [][]float32 `json:"embeddings"`
		PromptEvalCount int         `json:"prompt_eval_count"`
	}
	if err := p.postJSON(ctx, p.baseURL+"/api/embed", nil, reqBody, &apiResp); err != nil {
		return nil, err
	}

	return &EmbeddingResponse{
		Embeddings: apiResp.Embeddings,
		Usage:      Usage{PromptTokens: apiResp.PromptEvalCount, TotalTokens: apiResp.PromptEvalCount},
	}, nil
}

// Validate checks that the server is reachable and the model is pulled
func (p *OllamaProvider) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ollama unreachable at %s: %v", ErrProviderFailed, p.baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	for _, m := range tags.Models {
		if m.Name == p.model || strings.TrimSuffix(m.Name, ":latest") == p.model {
			return nil
		}
	}
	return fmt.Errorf("%w: ollama model %q not found, run `ollama pull %s`", ErrNotConfigured, p.model, p.model)
}
