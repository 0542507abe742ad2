package parser

import (
	"log/slog"
	"strings"

	"github.com/dshills/codeindex/pkg/types"
)

// Strategy is a primary parsing engine
type Strategy interface {
	Parse(text string, stopNodes []string) (types.ParseResult, error)
}

// Parser is the single entry point for tool payload parsing. It tries the
// structured engine first and recovers through the fallback parser as
// decided by its FailureTracker.
type Parser struct {
	primary  Strategy
	fallback *FallbackParser
	tracker  *FailureTracker
	logger   *slog.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithTracker shares a failure tracker between parsers
func WithTracker(t *FailureTracker) Option {
	return func(p *Parser) {
		if t != nil {
			p.tracker = t
		}
	}
}

// WithPrimary replaces the structured engine
func WithPrimary(s Strategy) Option {
	return func(p *Parser) {
		if s != nil {
			p.primary = s
		}
	}
}

// WithFallbackLimit overrides the fallback input size limit
func WithFallbackLimit(maxBytes int) Option {
	return func(p *Parser) {
		p.fallback.maxBytes = maxBytes
	}
}

// WithLogger sets the logger used for strategy transitions
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Parser instance
func New(opts ...Option) *Parser {
	p := &Parser{
		primary:  StructuredParser{},
		fallback: NewFallbackParser(),
		tracker:  NewFailureTracker(),
		logger:   slog.Default().With(slog.String("component", "parser")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tracker returns the failure tracker in use
func (p *Parser) Tracker() *FailureTracker {
	return p.tracker
}

// Parse converts text into a tree. stopNodes name elements whose inner
// markup is kept verbatim, for example "file.diff.content".
//
// A known nesting failure of the structured engine goes straight to the
// fallback. Any other failure is reported as a *ParseError until
// MaxFailures consecutive failures trip the breaker, at which point the
// fallback is tried once and the breaker re-arms. A failed fallback is
// reported as a *CombinedFailureError.
func (p *Parser) Parse(text string, stopNodes ...string) (types.ParseResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}

	result, err := p.primary.Parse(text, stopNodes)
	if err == nil {
		p.tracker.RecordSuccess()
		return result, nil
	}

	if isBypass(err) {
		p.logger.Warn("structured parse hit known nesting failure, using fallback",
			slog.Any("error", err))
		return p.runFallback(text, err)
	}

	count, tripped := p.tracker.RecordFailure()
	if !tripped {
		p.logger.Debug("structured parse failed",
			slog.Int("consecutive_failures", count),
			slog.Any("error", err))
		return nil, &ParseError{Failures: count, Err: err}
	}

	p.logger.Warn("structured parse failure threshold reached, using fallback",
		slog.Int("consecutive_failures", count),
		slog.Any("error", err))
	return p.runFallback(text, err)
}

func (p *Parser) runFallback(text string, primaryErr error) (types.ParseResult, error) {
	result, err := p.fallback.Parse(text)
	if err != nil {
		p.logger.Error("fallback parse failed", slog.Any("error", err))
		return nil, &CombinedFailureError{Primary: primaryErr, Fallback: err}
	}
	return result, nil
}
