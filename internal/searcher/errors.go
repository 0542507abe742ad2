package searcher

import (
	"errors"
	"fmt"

	"github.com/dshills/codeindex/pkg/types"
)

var (
	// ErrNotConfigured is returned when the feature is disabled or missing
	// embedder or vector store settings
	ErrNotConfigured = errors.New("code index is not enabled or not configured")

	// ErrEmbeddingFailed is returned when the embedder yields no query vector
	ErrEmbeddingFailed = errors.New("failed to generate query embedding")
)

// StateError is returned when the index cannot serve queries in its
// current state
type StateError struct {
	State types.IndexState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("code index is not ready for search (state: %s)", e.State)
}

// SearchError wraps a vector store failure
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("vector search failed: %v", e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }
