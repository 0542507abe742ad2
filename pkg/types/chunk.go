package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// CodeBlock is a contiguous slice of a source file prepared for embedding
type CodeBlock struct {
	// Location
	FilePath  string // Workspace relative, forward slashes
	StartLine int    // 1-based, inclusive
	EndLine   int    // 1-based, inclusive

	// Content
	Content     string
	SegmentHash string // Identity of the block within the file
	FileHash    string // Hash of the whole file the block came from
}

// ValidateContent checks if the block content is valid
func (b *CodeBlock) ValidateContent() error {
	if b.Content == "" {
		return errors.New("block content cannot be empty")
	}

	if b.StartLine <= 0 || b.EndLine <= 0 {
		return errors.New("line numbers must be positive")
	}

	if b.StartLine > b.EndLine {
		return errors.New("start line must be before or equal to end line")
	}

	return nil
}

// ComputeSegmentHash derives the segment hash from path, line range and content
func (b *CodeBlock) ComputeSegmentHash() {
	h := sha256.New()
	fmt.Fprintf(h, "%s-%d-%d-%d-", b.FilePath, b.StartLine, b.EndLine, len(b.Content))
	h.Write([]byte(b.Content))
	b.SegmentHash = hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens estimates the number of tokens in the block
// Uses a simple heuristic: characters / 4
func (b *CodeBlock) EstimateTokens() int {
	return len(b.Content) / 4
}

// Validate performs comprehensive validation of the block
func (b *CodeBlock) Validate() error {
	if err := b.ValidateContent(); err != nil {
		return err
	}

	if b.FilePath == "" {
		return errors.New("file path is required")
	}

	if b.SegmentHash == "" {
		return errors.New("segment hash must be computed")
	}

	return nil
}
