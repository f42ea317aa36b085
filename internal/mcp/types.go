// types.go — transport-agnostic tool result types.
//
// The actual MCP wire protocol (stdio framing, JSON-RPC 2.0) is owned by
// github.com/mark3labs/mcp-go in cmd/notifybridge-mcp; this package only
// defines the content shape that dispatch.Invoke returns, which main.go
// converts into mcp-go's CallToolResult.
package mcp

// MCPContentBlock is a single content block in a tool result.
type MCPContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// MCPToolResult is the result of a tool invocation.
type MCPToolResult struct {
	Content  []MCPContentBlock `json:"content"`
	IsError  bool              `json:"isError"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}
