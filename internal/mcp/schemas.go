package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool names
const (
	ToolIndexWorkspace   = "index_workspace"
	ToolCodebaseSearch   = "codebase_search"
	ToolGetIndexStatus   = "get_index_status"
	ToolParseDiffPayload = "parse_diff_payload"
)

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndexWorkspace,
		Description: "Index a workspace for semantic code search. Unchanged files are skipped using content hashes.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the workspace root",
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, delete the existing index and cache before indexing (full rebuild)",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// codebaseSearchTool returns the tool definition for codebase_search
func codebaseSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolCodebaseSearch,
		Description: "Find code in the indexed workspace that is semantically related to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language description of the code to find",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Optional directory to limit the search to, relative to the workspace root",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getIndexStatusTool returns the tool definition for get_index_status
func getIndexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetIndexStatus,
		Description: "Report the state and progress of the workspace index",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// parseDiffPayloadTool returns the tool definition for parse_diff_payload
func parseDiffPayloadTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolParseDiffPayload,
		Description: "Parse a multi-file diff payload (<file><path/><diff><content/><start_line/></diff></file>) into structured entries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"payload": map[string]interface{}{
					"type":        "string",
					"description": "Markup text containing one or more <file> blocks",
				},
			},
			Required: []string{"payload"},
		},
	}
}
