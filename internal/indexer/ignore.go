package indexer

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ignore files read from the workspace root, in order
const (
	GitIgnoreFile       = ".gitignore"
	CodeIndexIgnoreFile = ".codeindexignore"
)

// defaultIgnores are always applied before the workspace files
var defaultIgnores = []string{
	".git/",
	"node_modules/",
	"vendor/",
	"dist/",
	"build/",
	"__pycache__/",
	"*.min.js",
	"*.lock",
	"*.log",
}

// ErrInvalidPattern is reported for ignore lines that do not form a valid glob
var ErrInvalidPattern = errors.New("invalid ignore pattern")

type ignoreRule struct {
	glob    string
	negate  bool
	dirOnly bool
}

// IgnoreMatcher decides which workspace paths are excluded. Rules follow
// gitignore order: the last matching rule wins and "!" re-includes.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles patterns. Each pattern is converted and
// validated on its own; invalid ones are returned as errors and skipped.
func NewIgnoreMatcher(patterns []string) (*IgnoreMatcher, []error) {
	m := &IgnoreMatcher{}
	var errs []error
	for _, p := range patterns {
		rule, ok, err := compilePattern(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			m.rules = append(m.rules, rule)
		}
	}
	return m, errs
}

// LoadIgnoreMatcher builds a matcher from the defaults plus the workspace
// ignore files. Bad patterns are logged and skipped.
func LoadIgnoreMatcher(root string, logger *slog.Logger) *IgnoreMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	patterns := append([]string(nil), defaultIgnores...)
	for _, name := range []string{GitIgnoreFile, CodeIndexIgnoreFile} {
		lines, err := readLines(filepath.Join(root, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("failed to read ignore file", slog.String("file", name), slog.Any("error", err))
			}
			continue
		}
		patterns = append(patterns, lines...)
	}

	m, errs := NewIgnoreMatcher(patterns)
	for _, err := range errs {
		logger.Warn("skipping ignore pattern", slog.Any("error", err))
	}
	return m
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// compilePattern converts one gitignore line into a doublestar rule.
// ok is false for blank lines and comments.
func compilePattern(line string) (rule ignoreRule, ok bool, err error) {
	p := strings.TrimRight(line, " \t\r")
	if p == "" || strings.HasPrefix(p, "#") {
		return rule, false, nil
	}
	if strings.HasPrefix(p, "!") {
		rule.negate = true
		p = p[1:]
	} else if strings.HasPrefix(p, `\!`) || strings.HasPrefix(p, `\#`) {
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		rule.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return rule, false, nil
	}

	// A slash anywhere but the end anchors the pattern to the root
	if strings.Contains(p, "/") {
		p = strings.TrimPrefix(p, "/")
	} else {
		p = "**/" + p
	}
	if !doublestar.ValidatePattern(p) {
		return rule, false, fmt.Errorf("%w: %q", ErrInvalidPattern, line)
	}
	rule.glob = p
	return rule, true, nil
}

// Ignored reports whether rel, a slash separated workspace relative path,
// is excluded. Paths under an ignored directory are ignored as well.
func (m *IgnoreMatcher) Ignored(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	if rel == "" || rel == "." {
		return false
	}

	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string, isDir bool) bool {
	if (!r.dirOnly || isDir) && doublestar.MatchUnvalidated(r.glob, rel) {
		return true
	}
	// Any ancestor directory matching the rule covers rel
	for dir := parentDir(rel); dir != ""; dir = parentDir(dir) {
		if doublestar.MatchUnvalidated(r.glob, dir) {
			return true
		}
	}
	return false
}

func parentDir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}
