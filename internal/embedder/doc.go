// Package embedder generates vector embeddings for code blocks and queries.
//
// Providers are selected from config.Config by New:
//
//   - openai, gemini and mistral use the OpenAI embeddings wire format
//     against their vendor endpoints
//   - openai-compatible targets any endpoint speaking that format
//   - ollama uses the /api/embed endpoint of a local server
//
// # Basic Usage
//
//	emb, err := embedder.New(cfg)
//	if err != nil {
//	    return err
//	}
//	resp, err := emb.CreateEmbeddings(ctx, []string{"func ParseFile(path string) error"})
//	vector := resp.Embeddings[0]
//
// # Batching and Retries
//
// Inputs are split into batches bounded by MaxBatchSize texts and an
// estimated MaxBatchTokens. Each batch is retried with exponential backoff
// on 429 and 5xx responses and on transport errors. A rate.Limiter throttles
// requests on the client side. Rate limit failures match ErrRateLimited so
// callers can tell them apart from permanent errors.
//
// # Caching
//
// New wraps the provider in a CachedEmbedder unless WithCacheSize(0) is
// given. Vectors are cached in an LRU keyed by the SHA-256 of model and
// text, so re-indexing unchanged code costs no API calls.
package embedder
