package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// Tree keys for attributes and mixed text
const (
	attrPrefix = "@_"
	textKey    = "#text"
)

// StructuredParser converts markup to a generic object tree using the
// encoding/xml tokenizer. It holds no state between calls.
type StructuredParser struct{}

// Parse converts text into a tree. Elements whose path matches one of
// stopNodes keep their inner markup verbatim.
func (StructuredParser) Parse(text string, stopNodes []string) (types.ParseResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	stops := compileStopNodes(stopNodes)
	prepared := text
	if len(stops) > 0 {
		prepared = protectStopNodes(text, stops)
	}

	dec := xml.NewDecoder(strings.NewReader(prepared))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity

	root := &element{}
	stack := []*element{root}
	var path []string

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, classifyEngineError(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			path = append(path, t.Name.Local)
			el := &element{
				name:     t.Name.Local,
				verbatim: stops.match(path),
			}
			for _, a := range t.Attr {
				el.attrs = append(el.attrs, xml.Attr{Name: a.Name, Value: a.Value})
			}
			stack = append(stack, el)

		case xml.EndElement:
			el := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			path = path[:len(path)-1]
			stack[len(stack)-1].addChild(el.name, el.value())

		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}

	// The decoder reports unclosed elements at EOF in strict mode; this
	// only guards against a decoder that does not.
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: unexpected end of input inside <%s>", ErrParse, stack[len(stack)-1].name)
	}

	if root.children == nil {
		return nil, fmt.Errorf("%w: no elements found", ErrParse)
	}
	return root.children, nil
}

// classifyEngineError tags nesting failures so the breaker can recognize them
func classifyEngineError(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		for _, sig := range nestingSignatures {
			if strings.Contains(se.Msg, sig) {
				return fmt.Errorf("%w: %w: line %d: %s", ErrParse, ErrMalformedNesting, se.Line, se.Msg)
			}
		}
		return fmt.Errorf("%w: line %d: %s", ErrParse, se.Line, se.Msg)
	}
	return fmt.Errorf("%w: %w", ErrParse, err)
}

// element accumulates one node while its end tag is pending
type element struct {
	name     string
	attrs    []xml.Attr
	children map[string]any
	text     strings.Builder
	verbatim bool
}

func (e *element) addChild(name string, v any) {
	if e.children == nil {
		e.children = make(map[string]any)
	}
	existing, ok := e.children[name]
	if !ok {
		e.children[name] = v
		return
	}
	if list, isList := existing.([]any); isList {
		e.children[name] = append(list, v)
		return
	}
	e.children[name] = []any{existing, v}
}

func (e *element) value() any {
	text := e.text.String()
	if !e.verbatim {
		text = strings.TrimSpace(text)
	}

	if len(e.children) == 0 && len(e.attrs) == 0 {
		return text
	}

	node := make(map[string]any, len(e.children)+len(e.attrs)+1)
	for _, a := range e.attrs {
		node[attrPrefix+a.Name.Local] = a.Value
	}
	for k, v := range e.children {
		node[k] = v
	}
	if text != "" {
		node[textKey] = text
	}
	return node
}

// stopNodeSet matches element paths against compiled stop node patterns.
// A pattern is a dotted path ("file.diff.content"), where "*" matches one
// segment, or "*.name" which matches name at any depth.
type stopNodeSet [][]string

func compileStopNodes(patterns []string) stopNodeSet {
	var set stopNodeSet
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		set = append(set, strings.Split(p, "."))
	}
	return set
}

func (s stopNodeSet) match(path []string) bool {
	for _, pattern := range s {
		if matchPath(pattern, path) {
			return true
		}
	}
	return false
}

func matchPath(pattern, path []string) bool {
	if len(pattern) == 2 && pattern[0] == "*" {
		return len(path) > 0 && path[len(path)-1] == pattern[1]
	}
	if len(pattern) != len(path) {
		return false
	}
	for i := range pattern {
		if pattern[i] != "*" && pattern[i] != path[i] {
			return false
		}
	}
	return true
}

var tagPattern = regexp.MustCompile(`^<(/?)([A-Za-z_][-A-Za-z0-9_.:]*)(?:\s[^<>]*?)?(/?)>`)

// protectStopNodes rewrites the body of every stop node as a single CDATA
// section so the tokenizer passes it through untouched. A body that is
// already one CDATA section is unwrapped first.
func protectStopNodes(text string, stops stopNodeSet) string {
	var out strings.Builder
	out.Grow(len(text) + 64)

	var path []string
	i := 0
	for i < len(text) {
		lt := strings.IndexByte(text[i:], '<')
		if lt < 0 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+lt])
		i += lt
		rest := text[i:]

		if skip := skipMarkup(rest); skip > 0 {
			out.WriteString(rest[:skip])
			i += skip
			continue
		}

		m := tagPattern.FindStringSubmatchIndex(rest)
		if m == nil {
			out.WriteByte('<')
			i++
			continue
		}

		tag := rest[:m[1]]
		closing := m[3] > m[2]
		name := rest[m[4]:m[5]]
		selfClosing := m[7] > m[6]

		out.WriteString(tag)
		i += len(tag)

		switch {
		case closing:
			if len(path) > 0 && path[len(path)-1] == name {
				path = path[:len(path)-1]
			}
		case selfClosing:
		default:
			path = append(path, name)
			if !stops.match(path) {
				continue
			}
			bodyEnd, closeEnd := findClose(text[i:], name)
			if bodyEnd < 0 {
				// Unclosed stop node: leave it to the tokenizer to report
				continue
			}
			out.WriteString(wrapCDATA(text[i : i+bodyEnd]))
			out.WriteString(text[i+bodyEnd : i+closeEnd])
			i += closeEnd
			path = path[:len(path)-1]
		}
	}

	return out.String()
}

// skipMarkup returns the length of a comment, CDATA section, processing
// instruction or directive at the start of s, or 0.
func skipMarkup(s string) int {
	var start, end string
	switch {
	case strings.HasPrefix(s, "<!--"):
		start, end = "<!--", "-->"
	case strings.HasPrefix(s, "<![CDATA["):
		start, end = "<![CDATA[", "]]>"
	case strings.HasPrefix(s, "<?"):
		start, end = "<?", "?>"
	case strings.HasPrefix(s, "<!"):
		start, end = "<!", ">"
	default:
		return 0
	}
	idx := strings.Index(s[len(start):], end)
	if idx < 0 {
		return len(s)
	}
	return len(start) + idx + len(end)
}

// findClose locates the end tag matching an already opened element named
// name, counting nested elements of the same name. It returns the offset
// of the end tag and the offset just past it, or -1.
func findClose(s, name string) (bodyEnd, closeEnd int) {
	open := "<" + name
	end := "</" + name
	depth := 0
	i := 0
	for i < len(s) {
		lt := strings.IndexByte(s[i:], '<')
		if lt < 0 {
			return -1, -1
		}
		i += lt
		rest := s[i:]

		if strings.HasPrefix(rest, "<![CDATA[") {
			i += skipMarkup(rest)
			continue
		}

		if strings.HasPrefix(rest, end) && boundary(rest[len(end):]) {
			gt := strings.IndexByte(rest, '>')
			if gt < 0 {
				return -1, -1
			}
			if depth == 0 {
				return i, i + gt + 1
			}
			depth--
			i += gt + 1
			continue
		}

		if strings.HasPrefix(rest, open) && boundary(rest[len(open):]) {
			// Only a well-formed, non-self-closing open tag nests
			if m := tagPattern.FindStringSubmatch(rest); m != nil && m[1] == "" && m[2] == name && m[3] == "" {
				depth++
			}
		}
		i++
	}
	return -1, -1
}

func boundary(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '>', ' ', '\t', '\n', '\r', '/':
		return true
	}
	return false
}

func wrapCDATA(body string) string {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "<![CDATA[") && strings.HasSuffix(trimmed, "]]>") {
		inner := trimmed[len("<![CDATA[") : len(trimmed)-len("]]>")]
		if !strings.Contains(inner, "]]>") {
			body = inner
		}
	}
	return "<![CDATA[" + strings.ReplaceAll(body, "]]>", "]]]]><![CDATA[>") + "]]>"
}
