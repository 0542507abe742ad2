package types

import (
	"fmt"
	"strings"
)

// ParseResult is the object tree produced by the tool payload parser.
// Values are string, map[string]any or []any. Repeated sibling elements
// collapse into a slice; a single occurrence stays scalar.
type ParseResult = map[string]any

// Keys of the multi-file diff schema
const (
	KeyFile      = "file"
	KeyPath      = "path"
	KeyDiff      = "diff"
	KeyContent   = "content"
	KeyStartLine = "start_line"
)

// FileEntry is one <file> block of a multi-file diff payload
type FileEntry struct {
	Path  string
	Diffs []DiffBlock
}

// DiffBlock is one <diff> block inside a file entry
type DiffBlock struct {
	Content   string
	StartLine string // Optional, empty when absent
}

// FileEntries decodes the scalar-or-slice `file` key of a parse tree into
// typed entries, in document order.
func FileEntries(tree ParseResult) ([]FileEntry, error) {
	raw, ok := tree[KeyFile]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingKey, KeyFile)
	}

	var entries []FileEntry
	for i, item := range asList(raw) {
		node, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: file entry %d is not an element", ErrUnexpectedShape, i)
		}

		path := strings.TrimSpace(asText(node[KeyPath]))
		if path == "" {
			return nil, fmt.Errorf("%w: %s in file entry %d", ErrMissingKey, KeyPath, i)
		}

		entry := FileEntry{Path: path}
		for _, d := range asList(node[KeyDiff]) {
			block, err := decodeDiff(d)
			if err != nil {
				return nil, fmt.Errorf("file %s: %w", path, err)
			}
			entry.Diffs = append(entry.Diffs, block)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeDiff(v any) (DiffBlock, error) {
	switch d := v.(type) {
	case map[string]any:
		return DiffBlock{
			Content:   asText(d[KeyContent]),
			StartLine: strings.TrimSpace(asText(d[KeyStartLine])),
		}, nil
	case string:
		// <diff>text</diff> without a <content> child
		return DiffBlock{Content: d}, nil
	default:
		return DiffBlock{}, fmt.Errorf("%w: diff block", ErrUnexpectedShape)
	}
}

// asList normalizes a scalar-or-slice value to a slice
func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// asText returns the text of a leaf, or the #text of an element
func asText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["#text"].(string); ok {
			return s
		}
	}
	return ""
}
