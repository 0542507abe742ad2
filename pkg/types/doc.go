// Package types provides shared type definitions for codeindex.
//
// The package holds the data model that crosses package boundaries: the
// tool payload parse tree, code blocks produced by the chunker, vector
// store points and search results, and the index lifecycle state.
//
// # Parse Trees
//
// The payload parser returns a ParseResult, a generic map tree. The one
// schema consumers rely on is the multi-file diff:
//
//	<file>
//	  <path>src/app.go</path>
//	  <diff>
//	    <content><![CDATA[...]]></content>
//	    <start_line>12</start_line>
//	  </diff>
//	</file>
//
// A single <file> is returned as a scalar map, two or more as a slice.
// FileEntries hides that difference:
//
//	entries, err := types.FileEntries(tree)
//	for _, e := range entries {
//	    fmt.Println(e.Path, len(e.Diffs))
//	}
//
// # Points and Results
//
// Point pairs a vector with its Payload. SearchResult is what a vector
// store returns; Score is the cosine similarity unless a reranker
// replaced it.
//
// # Index State
//
// IndexState tracks Standby, Indexing, Indexed and Error. Only Indexed and
// Indexing may serve queries.
package types
