package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by this package matches one of these
// through errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid input: expected non-empty markup text")
	ErrSizeLimit        = errors.New("input exceeds fallback size limit")
	ErrMissingField     = errors.New("missing required field")
	ErrParse            = errors.New("failed to parse markup")
	ErrMalformedNesting = errors.New("malformed element nesting")
	ErrCombinedFailure  = errors.New("structured and fallback parsing both failed")
)

// nestingSignatures identify malformed nesting when an error reaches the
// breaker without its kind attached (for example from a custom Strategy).
var nestingSignatures = []string{
	"closed by",
	"unexpected end element",
}

// MissingFieldError reports a schema field the fallback parser could not find
type MissingFieldError struct {
	Field  string
	Detail string
}

func (e *MissingFieldError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("missing required field %q: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

// Is matches ErrMissingField
func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// ParseError is a structured parse failure reported without fallback.
// Failures is the breaker count after this failure.
type ParseError struct {
	Failures int
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse markup (consecutive failures: %d): %v", e.Failures, e.Err)
}

func (e *ParseError) Unwrap() []error {
	return []error{ErrParse, e.Err}
}

// CombinedFailureError carries both causes when the fallback could not
// recover from a structured parse failure.
type CombinedFailureError struct {
	Primary  error
	Fallback error
}

func (e *CombinedFailureError) Error() string {
	return fmt.Sprintf("structured parse failed: %v; fallback parse failed: %v", e.Primary, e.Fallback)
}

func (e *CombinedFailureError) Unwrap() []error {
	return []error{ErrCombinedFailure, e.Primary, e.Fallback}
}

// isBypass reports whether err is the known nesting failure of the
// structured engine. The typed kind is checked first; message matching
// covers strategies that do not expose it.
func isBypass(err error) bool {
	if errors.Is(err, ErrMalformedNesting) {
		return true
	}
	msg := err.Error()
	for _, sig := range nestingSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
