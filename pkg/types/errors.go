package types

import "errors"

// Domain errors for type validation
var (
	// Parse tree errors
	ErrMissingKey      = errors.New("missing required key")
	ErrUnexpectedShape = errors.New("unexpected parse tree shape")

	// Point and search result errors
	ErrInvalidPointID        = errors.New("invalid point ID")
	ErrInvalidRelevanceScore = errors.New("relevance score must be a finite number")
	ErrMissingPayload        = errors.New("payload is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrVectorMismatch        = errors.New("vector dimension mismatch")
)
