// Package mcp implements the Model Context Protocol server for codeindex.
//
// The server exposes four tools over stdio:
//   - index_workspace: index (or incrementally refresh) a workspace
//   - codebase_search: semantic search, optionally limited to a directory
//   - get_index_status: state and progress of the active workspace
//   - parse_diff_payload: decode a multi-file diff tool payload
//
// Each workspace gets its own manager.Manager, created on first use. The
// last workspace passed to index_workspace becomes the active one for
// search and status calls.
//
// # Errors
//
// Handlers return *MCPError with JSON-RPC codes:
//
//	-32602  invalid parameters (bad path argument, malformed payload)
//	-32603  internal error
//	-32001  workspace path is not a readable directory
//	-32002  indexing already in progress
//	-32003  index not ready for search
//	-32004  empty query
//	-32005  feature disabled or not configured
package mcp
