package types

import "math"

// Payload is the metadata stored next to each vector
type Payload struct {
	FilePath    string `json:"filePath"`
	CodeChunk   string `json:"codeChunk"`
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	SegmentHash string `json:"segmentHash"`
}

// Point is a vector with its payload, as written to a vector store
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// SearchResult represents a single search hit
type SearchResult struct {
	ID      string
	Score   float64 // Cosine similarity, or the reranker score after reranking (unbounded)
	Payload *Payload
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.ID == "" {
		return ErrInvalidPointID
	}

	if math.IsNaN(sr.Score) || math.IsInf(sr.Score, 0) {
		return ErrInvalidRelevanceScore
	}

	if sr.Payload == nil {
		return ErrMissingPayload
	}

	if sr.Payload.CodeChunk == "" {
		return ErrEmptyContent
	}

	return nil
}

// Validate checks a point before it is written
func (p *Point) Validate(dimension int) error {
	if p.ID == "" {
		return ErrInvalidPointID
	}
	if dimension > 0 && len(p.Vector) != dimension {
		return ErrVectorMismatch
	}
	if p.Payload.FilePath == "" {
		return ErrMissingPayload
	}
	return nil
}
