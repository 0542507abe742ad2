package parser

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// MaxFallbackInputBytes bounds the input the fallback parser accepts
const MaxFallbackInputBytes = 10 * 1024 * 1024

var (
	fileBlockPattern    = regexp.MustCompile(`(?s)<file(?:\s[^>]*)?>(.*?)</file>`)
	pathPattern         = regexp.MustCompile(`(?s)<path(?:\s*|\s[^>]*[^/>])>(.*?)</path>`)
	cdataPattern        = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	diffBlockPattern    = regexp.MustCompile(`(?s)<diff(?:\s[^>]*)?>(.*?)</diff>`)
	cdataContentPattern = regexp.MustCompile(`(?s)<content(?:\s[^>]*)?>\s*<!\[CDATA\[(.*?)\]\]>\s*</content>`)
	plainContentPattern = regexp.MustCompile(`(?s)<content(?:\s[^>]*)?>(.*?)</content>`)
	startLinePattern    = regexp.MustCompile(`(?s)<start_line(?:\s[^>]*)?>(.*?)</start_line>`)
)

// FallbackParser recovers the multi-file diff schema from text the
// structured parser rejected. It only understands file, path, diff,
// content and start_line, and fails closed when path is absent.
type FallbackParser struct {
	maxBytes int
}

// NewFallbackParser creates a fallback parser with the default size limit
func NewFallbackParser() *FallbackParser {
	return &FallbackParser{maxBytes: MaxFallbackInputBytes}
}

// Parse extracts every <file> block of text
func (f *FallbackParser) Parse(text string) (types.ParseResult, error) {
	limit := f.maxBytes
	if limit <= 0 {
		limit = MaxFallbackInputBytes
	}
	if len(text) > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrSizeLimit, len(text), limit)
	}

	var entries []any
	for _, block := range fileBlockPattern.FindAllStringSubmatch(text, -1) {
		body := block[1]

		// Diff bodies may carry their own <path> elements (SVG, XML)
		outside := diffBlockPattern.ReplaceAllString(cdataPattern.ReplaceAllString(body, ""), "")
		pm := pathPattern.FindStringSubmatch(outside)
		if pm == nil {
			return nil, &MissingFieldError{Field: types.KeyPath, Detail: "file block has no <path> element"}
		}
		path := strings.TrimSpace(html.UnescapeString(pm[1]))
		if path == "" {
			return nil, &MissingFieldError{Field: types.KeyPath, Detail: "file block has an empty <path> element"}
		}

		var diffs []any
		for _, dm := range diffBlockPattern.FindAllStringSubmatch(body, -1) {
			diff, ok := extractDiff(dm[1])
			if !ok {
				continue
			}
			diffs = append(diffs, diff)
		}
		if len(diffs) == 0 {
			continue
		}

		entries = append(entries, map[string]any{
			types.KeyPath: path,
			types.KeyDiff: collapse(diffs),
		})
	}

	if len(entries) == 0 {
		return nil, &MissingFieldError{Field: types.KeyFile, Detail: "no valid file entries"}
	}

	return types.ParseResult{types.KeyFile: collapse(entries)}, nil
}

// extractDiff pulls content and start_line from one diff body. CDATA
// content wins over plain content and is returned byte for byte.
func extractDiff(body string) (map[string]any, bool) {
	var content string
	if m := cdataContentPattern.FindStringSubmatch(body); m != nil {
		content = m[1]
	} else if m := plainContentPattern.FindStringSubmatch(body); m != nil {
		content = html.UnescapeString(m[1])
	}
	if strings.TrimSpace(content) == "" {
		return nil, false
	}

	diff := map[string]any{types.KeyContent: content}
	if m := startLinePattern.FindStringSubmatch(body); m != nil {
		if line := strings.TrimSpace(m[1]); line != "" {
			diff[types.KeyStartLine] = line
		}
	}
	return diff, true
}

// collapse returns the only element of a one-element list
func collapse(items []any) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}
