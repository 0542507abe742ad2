package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/codeindex/pkg/types"
)

const (
	// MaxBlockChars is the target maximum size of a block
	MaxBlockChars = 1000

	// MaxCharsTolerance lets a block grow past MaxBlockChars before splitting
	MaxCharsTolerance = 1.15

	// MinBlockChars is the smallest block worth embedding
	MinBlockChars = 50

	// MinRemainderChars is the smallest tail left after a split
	MinRemainderChars = 200
)

// Options tunes block sizes
type Options struct {
	MaxChars     int
	Tolerance    float64
	MinChars     int
	MinRemainder int
}

// DefaultOptions returns the standard block sizes
func DefaultOptions() Options {
	return Options{
		MaxChars:     MaxBlockChars,
		Tolerance:    MaxCharsTolerance,
		MinChars:     MinBlockChars,
		MinRemainder: MinRemainderChars,
	}
}

// Chunker splits source files into line-aligned blocks
type Chunker struct {
	opts  Options
	limit int // MaxChars scaled by Tolerance
}

// New creates a Chunker with default options
func New() *Chunker {
	return NewWithOptions(DefaultOptions())
}

// NewWithOptions creates a Chunker; zero fields take their defaults
func NewWithOptions(opts Options) *Chunker {
	def := DefaultOptions()
	if opts.MaxChars <= 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.Tolerance < 1 {
		opts.Tolerance = def.Tolerance
	}
	if opts.MinChars <= 0 {
		opts.MinChars = def.MinChars
	}
	if opts.MinRemainder < 0 {
		opts.MinRemainder = def.MinRemainder
	}
	return &Chunker{opts: opts, limit: int(float64(opts.MaxChars) * opts.Tolerance)}
}

// line is a source line with its 1-based number
type line struct {
	no   int
	text string
}

// size counts the line plus its newline
func (l line) size() int { return len(l.text) + 1 }

func linesSize(ls []line) int {
	n := 0
	for _, l := range ls {
		n += l.size()
	}
	return n
}

// ChunkFile splits content into blocks. filePath is recorded on each
// block and feeds the segment hash, fileHash is copied through. Files
// shorter than MinChars produce no blocks.
func (c *Chunker) ChunkFile(filePath string, content []byte, fileHash string) []types.CodeBlock {
	text := strings.ReplaceAll(string(content), "\r\n", "\n")
	if len(strings.TrimSpace(text)) < c.opts.MinChars {
		return nil
	}

	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	lines := make([]line, len(raw))
	remaining := 0
	for i, t := range raw {
		lines[i] = line{no: i + 1, text: t}
		remaining += lines[i].size()
	}

	var (
		blocks  []types.CodeBlock
		current []line
		curSize int
	)
	emit := func(ls []line) {
		if b, ok := c.block(filePath, fileHash, ls); ok {
			blocks = append(blocks, b)
		}
	}

	for _, l := range lines {
		if l.size() > c.limit {
			if len(current) > 0 {
				emit(current)
				current, curSize = nil, 0
			}
			blocks = append(blocks, c.splitLine(filePath, fileHash, l)...)
			remaining -= l.size()
			continue
		}

		// A block under MinChars absorbs the next line instead of being dropped
		if curSize+l.size() > c.limit && curSize >= c.opts.MinChars {
			split := c.splitPoint(current, remaining)
			emit(current[:split])
			current = append([]line(nil), current[split:]...)
			curSize = linesSize(current)
		}

		current = append(current, l)
		curSize += l.size()
		remaining -= l.size()
	}

	if len(current) > 0 {
		tail := strings.TrimSpace(joinLines(current))
		if len(tail) < c.opts.MinChars && len(blocks) > 0 && blocks[len(blocks)-1].EndLine == current[0].no-1 {
			blocks[len(blocks)-1] = c.extend(blocks[len(blocks)-1], current)
		} else {
			emit(current)
		}
	}
	return blocks
}

// splitPoint picks how many lines of current to emit. When the text left
// after current is short, it backs up so the next block reaches
// MinRemainder while this one keeps at least MinChars.
func (c *Chunker) splitPoint(current []line, remaining int) int {
	if remaining >= c.opts.MinRemainder {
		return len(current)
	}
	for k := len(current) - 1; k > 0; k-- {
		head := linesSize(current[:k])
		if head < c.opts.MinChars {
			break
		}
		if linesSize(current[k:])+remaining >= c.opts.MinRemainder {
			return k
		}
	}
	return len(current)
}

// splitLine cuts an oversize line into MaxChars pieces on rune boundaries
func (c *Chunker) splitLine(filePath, fileHash string, l line) []types.CodeBlock {
	var out []types.CodeBlock
	s := l.text
	for len(s) > 0 {
		n := min(c.opts.MaxChars, len(s))
		for n < len(s) && n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		if n == 0 {
			n = len(s)
		}
		piece := s[:n]
		s = s[n:]
		if len(strings.TrimSpace(piece)) == 0 {
			continue
		}
		b := types.CodeBlock{
			FilePath:  filePath,
			StartLine: l.no,
			EndLine:   l.no,
			Content:   piece,
			FileHash:  fileHash,
		}
		b.ComputeSegmentHash()
		out = append(out, b)
	}
	return out
}

func (c *Chunker) block(filePath, fileHash string, ls []line) (types.CodeBlock, bool) {
	content := joinLines(ls)
	if len(strings.TrimSpace(content)) < c.opts.MinChars {
		return types.CodeBlock{}, false
	}
	b := types.CodeBlock{
		FilePath:  filePath,
		StartLine: ls[0].no,
		EndLine:   ls[len(ls)-1].no,
		Content:   content,
		FileHash:  fileHash,
	}
	b.ComputeSegmentHash()
	return b, true
}

// extend appends a short trailing run of lines to b
func (c *Chunker) extend(b types.CodeBlock, ls []line) types.CodeBlock {
	b.Content += "\n" + joinLines(ls)
	b.EndLine = ls[len(ls)-1].no
	b.ComputeSegmentHash()
	return b
}

func joinLines(ls []line) string {
	var sb strings.Builder
	for i, l := range ls {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.text)
	}
	return sb.String()
}
