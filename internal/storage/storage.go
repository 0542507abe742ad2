package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

var (
	// ErrNotInitialized is returned when a store is used before Initialize
	ErrNotInitialized = errors.New("vector store not initialized")
	// ErrDimensionMismatch is returned when a vector has the wrong length
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStoreUnavailable wraps connection failures of remote stores
	ErrStoreUnavailable = errors.New("vector store unavailable")
)

// VectorStore persists code block vectors of one workspace collection
type VectorStore interface {
	// Initialize creates the collection if needed. It returns true when a
	// new collection was created, including when an existing one was
	// recreated because its dimension no longer matches.
	Initialize(ctx context.Context) (bool, error)

	// UpsertPoints writes points, replacing existing ids
	UpsertPoints(ctx context.Context, points []types.Point) error

	// Search returns up to maxResults points scoring at least minScore,
	// best first. dirPrefix restricts results to a directory; "" and "."
	// mean the whole workspace.
	Search(ctx context.Context, vector []float32, dirPrefix string, minScore float64, maxResults int) ([]types.SearchResult, error)

	// DeletePointsByFilePath removes every point of a file
	DeletePointsByFilePath(ctx context.Context, filePath string) error

	// DeletePointsByMultipleFilePaths removes every point of the files
	DeletePointsByMultipleFilePaths(ctx context.Context, filePaths []string) error

	// ClearCollection removes all points but keeps the collection
	ClearCollection(ctx context.Context) error

	// DeleteCollection drops the collection
	DeleteCollection(ctx context.Context) error

	// CollectionExists reports whether the collection exists
	CollectionExists(ctx context.Context) (bool, error)

	// Close releases resources
	Close() error
}

// CollectionName derives the collection of a workspace from its path
func CollectionName(workspacePath string) string {
	h := sha256.Sum256([]byte(workspacePath))
	return "ws-" + hex.EncodeToString(h[:])[:16]
}

// NormalizePrefix cleans a directory filter. The empty string means no
// filter.
func NormalizePrefix(prefix string) string {
	p := strings.TrimSpace(strings.ReplaceAll(prefix, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "/" {
		return ""
	}
	return strings.TrimSuffix(p, "/")
}

// MatchesPrefix reports whether filePath lies inside the normalized
// directory prefix. Matching is by whole path segments, so "src/api" does
// not match "src/apiary/x.go".
func MatchesPrefix(filePath, prefix string) bool {
	if prefix == "" {
		return true
	}
	fp := strings.TrimPrefix(path.Clean(strings.ReplaceAll(filePath, "\\", "/")), "./")
	return fp == prefix || strings.HasPrefix(fp, prefix+"/")
}

// candidate is a scored point awaiting ranking
type candidate struct {
	id      string
	score   float64
	payload types.Payload
}

// rankCandidates sorts best first, ties broken by id for stable output,
// and truncates to limit. A non-positive limit keeps everything.
func rankCandidates(candidates []candidate, limit int) []types.SearchResult {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]types.SearchResult, limit)
	for i := 0; i < limit; i++ {
		p := candidates[i].payload
		results[i] = types.SearchResult{ID: candidates[i].id, Score: candidates[i].score, Payload: &p}
	}
	return results
}

// validatePoints checks every point against the collection dimension
func validatePoints(points []types.Point, dimension int) error {
	for i := range points {
		if err := points[i].Validate(dimension); err != nil {
			return err
		}
	}
	return nil
}
