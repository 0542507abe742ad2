package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex/internal/manager"
	"github.com/dshills/codeindex/internal/parser"
	"github.com/dshills/codeindex/internal/searcher"
	"github.com/dshills/codeindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeWorkspaceNotFound  = -32001 // Specified path is not a readable directory
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Index cannot serve queries in its current state
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeNotConfigured      = -32005 // Feature disabled or embedder/store settings missing
)

// diffContentNode keeps diff bodies verbatim while parsing payloads
const diffContentNode = "file.diff.content"

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if err := validatePath(path); err != nil {
		return nil, newMCPError(ErrorCodeWorkspaceNotFound, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}
	forceReindex := getBoolDefault(args, "force_reindex", false)

	m, err := s.managerFor(ctx, abs)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to initialize workspace", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if forceReindex {
		if err := m.ClearIndexData(ctx); err != nil {
			return nil, mapManagerError("failed to clear index", err)
		}
	}

	start := time.Now()
	stats, err := m.StartIndexing(ctx)
	if err != nil {
		return nil, mapManagerError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":        true,
		"workspace":      abs,
		"files_scanned":  stats.Files,
		"files_indexed":  stats.Indexed,
		"files_skipped":  stats.Skipped,
		"files_removed":  stats.Removed,
		"blocks_written": stats.Blocks,
		"duration_ms":    time.Since(start).Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCodebaseSearch handles the codebase_search tool invocation
func (s *Server) handleCodebaseSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter cannot be empty", map[string]interface{}{
			"param": "query",
		})
	}

	m, workspace, err := s.activeManager(ctx)
	if err != nil {
		if errors.Is(err, ErrNoWorkspace) {
			return nil, newMCPError(ErrorCodeNotIndexed, "no workspace has been indexed", map[string]interface{}{
				"suggestion": "Run index_workspace first",
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to initialize workspace", map[string]interface{}{
			"error": err.Error(),
		})
	}

	prefix := scopePrefix(workspace, getStringDefault(args, "path", ""))
	results, err := m.SearchIndex(ctx, query, prefix)
	if err != nil {
		return nil, mapSearchError(err)
	}

	items := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		if r.Payload == nil {
			continue
		}
		items = append(items, map[string]interface{}{
			"filePath":  r.Payload.FilePath,
			"score":     r.Score,
			"startLine": r.Payload.StartLine,
			"endLine":   r.Payload.EndLine,
			"codeChunk": r.Payload.CodeChunk,
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"path":          prefix,
		"results":       items,
		"total_results": len(items),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetIndexStatus handles the get_index_status tool invocation
func (s *Server) handleGetIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, workspace, err := s.activeManager(ctx)
	if err != nil {
		if errors.Is(err, ErrNoWorkspace) {
			response := map[string]interface{}{
				"indexed": false,
				"status": types.IndexStatus{
					State:   types.StateStandby,
					Message: "No workspace opened",
				},
			}
			return mcp.NewToolResultText(formatJSON(response)), nil
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to initialize workspace", map[string]interface{}{
			"error": err.Error(),
		})
	}

	status := m.Status()
	cfg := m.Config()
	response := map[string]interface{}{
		"workspace":  workspace,
		"indexed":    status.State == types.StateIndexed,
		"status":     status,
		"enabled":    cfg.IsFeatureEnabled(),
		"configured": cfg.IsConfigured(),
	}
	if cfg.IsConfigured() {
		current := cfg.Current()
		response["embedder"] = current.EmbedderProvider
		response["model"] = current.EffectiveModelID()
		response["vector_store"] = current.VectorStoreProvider
		response["reranking"] = current.RerankingActive()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleParseDiffPayload handles the parse_diff_payload tool invocation
func (s *Server) handleParseDiffPayload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	payload, ok := args["payload"].(string)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "payload parameter is required", map[string]interface{}{
			"param":  "payload",
			"reason": "missing or not a string",
		})
	}

	tree, err := s.parser.Parse(payload, diffContentNode)
	if err != nil {
		return nil, mapParseError(err)
	}

	entries, err := types.FileEntries(tree)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "payload is not a multi-file diff", map[string]interface{}{
			"error": err.Error(),
		})
	}

	files := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		diffs := make([]map[string]interface{}, 0, len(e.Diffs))
		for _, d := range e.Diffs {
			diffs = append(diffs, map[string]interface{}{
				"content":    d.Content,
				"start_line": d.StartLine,
			})
		}
		files = append(files, map[string]interface{}{
			"path":  e.Path,
			"diffs": diffs,
		})
	}

	response := map[string]interface{}{
		"files":      files,
		"file_count": len(files),
		"tree":       tree,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// scopePrefix converts the optional search path to a workspace-relative
// directory prefix
func scopePrefix(workspace, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return ""
	}
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(workspace, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(path)
		}
		path = rel
	}
	path = strings.TrimPrefix(filepath.ToSlash(filepath.Clean(path)), "./")
	if path == "." {
		return ""
	}
	return path
}

// mapSearchError converts search failures to MCP errors
func mapSearchError(err error) error {
	var stateErr *searcher.StateError
	switch {
	case errors.Is(err, searcher.ErrNotConfigured), errors.Is(err, manager.ErrNotInitialized):
		return newMCPError(ErrorCodeNotConfigured, "code index is not enabled or not configured", map[string]interface{}{
			"error": err.Error(),
		})
	case errors.As(err, &stateErr):
		return newMCPError(ErrorCodeNotIndexed, "index is not ready for search", map[string]interface{}{
			"state":      string(stateErr.State),
			"suggestion": "Run index_workspace first",
		})
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// mapManagerError converts indexing failures to MCP errors
func mapManagerError(message string, err error) error {
	switch {
	case errors.Is(err, manager.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	case errors.Is(err, searcher.ErrNotConfigured), errors.Is(err, manager.ErrNotInitialized):
		return newMCPError(ErrorCodeNotConfigured, "code index is not enabled or not configured", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// mapParseError converts parser failures to MCP errors. Input problems
// are the caller's fault; everything else is internal.
func mapParseError(err error) error {
	var missing *parser.MissingFieldError
	switch {
	case errors.As(err, &missing):
		return newMCPError(ErrorCodeInvalidParams, "payload is missing a required field", map[string]interface{}{
			"field":  missing.Field,
			"detail": missing.Detail,
		})
	case errors.Is(err, parser.ErrInvalidInput), errors.Is(err, parser.ErrSizeLimit):
		return newMCPError(ErrorCodeInvalidParams, "invalid payload", map[string]interface{}{
			"error": err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, "failed to parse payload", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// newMCPError creates a new MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validatePath checks if a path exists and is a readable directory
func validatePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", path)
		}
		return fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("directory not readable: %w", err)
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as JSON string
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault gets a boolean value from args with a default
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault gets a string value from args with a default
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
