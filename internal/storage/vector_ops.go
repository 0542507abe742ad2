package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, collection string, queryVector []float32, prefix string, minScore float64, limit int) ([]types.SearchResult, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, collection, queryVector, prefix, minScore, limit)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, collection, queryVector, prefix, minScore, limit)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, collection string, queryVector []float32, prefix string, minScore float64, limit int) ([]types.SearchResult, error) {
	if limit <= 0 {
		return []types.SearchResult{}, nil
	}
	blob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT id, file_path, code_chunk, start_line, end_line, segment_hash,
			1.0 - vec_distance_cosine(vector, ?) AS similarity
		FROM points
		WHERE collection = ?
	`
	args := []any{blob, collection}
	query, args = applyPrefixFilter(query, args, prefix)

	query += " AND (1.0 - vec_distance_cosine(vector, ?)) >= ? ORDER BY similarity DESC, id ASC LIMIT ?"
	args = append(args, blob, minScore, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.SearchResult, 0, limit)
	for rows.Next() {
		var r types.SearchResult
		var p types.Payload
		if err := rows.Scan(&r.ID, &p.FilePath, &p.CodeChunk, &p.StartLine, &p.EndLine, &p.SegmentHash, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Payload = &p
		results = append(results, r)
	}
	return results, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, db *sql.DB, collection string, queryVector []float32, prefix string, minScore float64, limit int) ([]types.SearchResult, error) {
	query := `
		SELECT id, file_path, code_chunk, start_line, end_line, segment_hash, vector
		FROM points
		WHERE collection = ?
	`
	args := []any{collection}
	query, args = applyPrefixFilter(query, args, prefix)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, minScore)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []types.SearchResult{}, nil
	}
	return rankCandidates(candidates, limit), nil
}

// applyPrefixFilter restricts the query to a directory by whole segments
func applyPrefixFilter(query string, args []any, prefix string) (string, []any) {
	if prefix == "" {
		return query, args
	}
	query += ` AND (file_path = ? OR file_path LIKE ? ESCAPE '\')`
	args = append(args, prefix, escapeLike(prefix)+"/%")
	return query, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, minScore float64) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var c candidate
		var blob []byte
		if err := rows.Scan(&c.id, &c.payload.FilePath, &c.payload.CodeChunk,
			&c.payload.StartLine, &c.payload.EndLine, &c.payload.SegmentHash, &blob); err != nil {
			return nil, err
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		c.score = cosineSimilarity(queryVector, vector)
		if c.score < minScore {
			continue
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineSimilarity is exported for the other stores and tests
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
