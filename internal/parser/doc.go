// Package parser turns markup tool payloads emitted by language models into
// object trees.
//
// Two strategies are combined. StructuredParser is a general purpose
// converter built on encoding/xml. FallbackParser is a narrow pattern
// extractor that only knows the multi-file diff schema (file, path, diff,
// content, start_line) and is used when the structured engine gives up.
//
// # Basic Usage
//
//	p := parser.New()
//	tree, err := p.Parse(payload, "file.diff.content")
//	if err != nil {
//	    return err
//	}
//
//	entries, err := types.FileEntries(tree)
//
// # Stop Nodes
//
// Diff bodies routinely contain characters that look like markup. Elements
// named as stop nodes keep their inner text verbatim:
//
//	p.Parse(payload, "file.diff.content") // exact path
//	p.Parse(payload, "*.content")          // any depth
//
// A stop node body that is a single CDATA section is unwrapped.
//
// # Failure Handling
//
// Each Parser owns a FailureTracker (or shares one through WithTracker):
//
//   - success resets the consecutive failure count
//   - ErrMalformedNesting (an element closed by the wrong end tag) goes to
//     the fallback immediately without touching the count
//   - any other failure increments the count and is returned as a
//     *ParseError; the MaxFailures-th failure runs the fallback instead
//     and re-arms the breaker
//
// When the fallback fails too the error is a *CombinedFailureError carrying
// both causes. Use errors.Is with the exported sentinels to branch:
//
//	switch {
//	case errors.Is(err, parser.ErrInvalidInput):
//	case errors.Is(err, parser.ErrCombinedFailure):
//	case errors.Is(err, parser.ErrParse):
//	}
//
// The package performs no I/O and never retries the structured engine.
package parser
