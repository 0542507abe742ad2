package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderFailed      = errors.New("embedding provider failed")
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrEmptyText           = errors.New("text cannot be empty")
	ErrItemTooLarge        = errors.New("text exceeds the provider token limit")
	ErrRateLimited         = errors.New("embedding provider rate limit exceeded")
	ErrNotConfigured       = errors.New("embedding provider not configured")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Usage reports token consumption of a request
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// EmbeddingResponse holds one vector per input text, in input order
type EmbeddingResponse struct {
	Embeddings [][]float32
	Usage      Usage
}

// Embedder turns texts into vectors
type Embedder interface {
	// CreateEmbeddings embeds texts, preserving order
	CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error)

	// Validate checks connectivity and credentials with a minimal request
	Validate(ctx context.Context) error

	// Provider returns the provider name
	Provider() string

	// Model returns the model id
	Model() string

	// Dimension returns the vector dimension, or 0 when unknown
	Dimension() int
}

// Cache provides in-memory LRU caching of vectors by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000 // Default: cache 10k embeddings
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of a cached vector
func (c *Cache) Get(hash string) ([]float32, bool) {
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a copy of vector
func (c *Cache) Set(hash string, vector []float32) {
	v := make([]float32, len(vector))
	copy(v, vector)
	c.cache.Add(hash, v)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// CachedEmbedder serves repeated texts from a Cache and forwards misses to
// the wrapped embedder in one request
type CachedEmbedder struct {
	Embedder
	cache *Cache
}

// NewCachedEmbedder wraps e with cache
func NewCachedEmbedder(e Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{Embedder: e, cache: cache}
}

// CreateEmbeddings implements Embedder
func (c *CachedEmbedder) CreateEmbeddings(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	if err := ValidateTexts(texts); err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		keys[i] = ComputeHash(c.Model() + "\x00" + text)
		if v, ok := c.cache.Get(keys[i]); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	resp := &EmbeddingResponse{Embeddings: out}
	if len(missTexts) == 0 {
		return resp, nil
	}

	fresh, err := c.Embedder.CreateEmbeddings(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh.Embeddings) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(fresh.Embeddings), len(missTexts))
	}
	for j, i := range missIdx {
		out[i] = fresh.Embeddings[j]
		c.cache.Set(keys[i], fresh.Embeddings[j])
	}
	resp.Usage = fresh.Usage
	return resp, nil
}

// ValidateTexts rejects empty batches and empty texts
func ValidateTexts(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text at index %d", ErrEmptyText, i)
		}
	}
	return nil
}

// EstimateTokens approximates the token count of text
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitBatches groups texts so each batch stays within maxItems and
// maxTokens. A single text above maxItemTokens is rejected.
func splitBatches(texts []string, maxItems, maxTokens, maxItemTokens int) ([][]string, error) {
	var batches [][]string
	var cur []string
	curTokens := 0

	for i, text := range texts {
		tokens := EstimateTokens(text)
		if maxItemTokens > 0 && tokens > maxItemTokens {
			return nil, fmt.Errorf("%w: text at index %d has ~%d tokens (max %d)", ErrItemTooLarge, i, tokens, maxItemTokens)
		}
		if len(cur) > 0 && (len(cur) >= maxItems || curTokens+tokens > maxTokens) {
			batches = append(batches, cur)
			cur, curTokens = nil, 0
		}
		cur = append(cur, text)
		curTokens += tokens
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches, nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
