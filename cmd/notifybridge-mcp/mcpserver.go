// mcpserver.go — the MCP protocol transport. Every tool the dispatcher
// knows about (registered in tools.go) gets a matching mark3labs/mcp-go
// declaration here, purely for protocol advertisement (name, description,
// parameter schema); the actual authn/validate/rate-limit/security/handler
// pipeline still runs inside dispatch.Dispatcher.Invoke, so this file's job
// is narrowly: mcp.CallToolRequest in, dispatcher.Invoke, json.RawMessage
// out, *mcp.CallToolResult back.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dev-console/notifybridge/internal/dispatch"
	"github.com/dev-console/notifybridge/internal/logging"
	internalmcp "github.com/dev-console/notifybridge/internal/mcp"
)

var correlationSeq atomic.Int64

func nextCorrelationID() string {
	return "corr-" + strconv.FormatInt(correlationSeq.Add(1), 10)
}

// newMCPServer builds the stdio-facing MCP server and wires every dispatch
// tool to it. Schema declarations here are protocol metadata for
// tools/list; the authoritative validation still happens inside
// dispatch.Dispatcher against the jsonschema.Schema each Tool carries.
func newMCPServer(app *App) *server.MCPServer {
	s := server.NewMCPServer("notifybridge", "1.0.0", server.WithToolCapabilities(true))

	bind := func(tool mcp.Tool) {
		name := tool.Name
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return invokeTool(ctx, app, name, req)
		})
	}

	bind(mcp.NewTool("send_event",
		mcp.WithDescription("Write a generic notification event to the outbound drop-zone."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Event type: message, task_completion, performance_alert, approval_request, security_event, or custom.")),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithString("task_id"),
		mcp.WithString("source"),
		mcp.WithObject("data", mcp.Description("Arbitrary structured payload attached to the event.")),
	))

	bind(mcp.NewTool("send_message",
		mcp.WithDescription("Send a simple free-text notification message."),
		mcp.WithString("message", mcp.Required()),
		mcp.WithString("source"),
	))

	bind(mcp.NewTool("send_task_completion",
		mcp.WithDescription("Report that a task finished, with an optional summary of results."),
		mcp.WithString("task_id", mcp.Required()),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("results"),
		mcp.WithArray("files_affected", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithNumber("duration_ms"),
	))

	bind(mcp.NewTool("send_performance_alert",
		mcp.WithDescription("Report a metric crossing a threshold."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithNumber("current_value", mcp.Required()),
		mcp.WithNumber("threshold", mcp.Required()),
		mcp.WithString("severity"),
	))

	bind(mcp.NewTool("send_approval_request",
		mcp.WithDescription("Ask the user for an approve/deny decision via Telegram."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithArray("options", mcp.Items(map[string]any{"type": "string"})),
	))

	bind(mcp.NewTool("start_bridge", mcp.WithDescription("Start the external delivery bridge process if it is not already running.")))
	bind(mcp.NewTool("stop_bridge", mcp.WithDescription("Stop the external delivery bridge process.")))
	bind(mcp.NewTool("restart_bridge", mcp.WithDescription("Restart the external delivery bridge process.")))
	bind(mcp.NewTool("ensure_bridge_running", mcp.WithDescription("Start the bridge only if a cached probe shows it isn't already running.")))
	bind(mcp.NewTool("check_bridge_process", mcp.WithDescription("Force a live probe of the bridge process, bypassing the cache.")))

	bind(mcp.NewTool("get_responses",
		mcp.WithDescription("List the most recent user responses from the inbound drop-zone."),
		mcp.WithNumber("limit"),
	))

	bind(mcp.NewTool("process_pending",
		mcp.WithDescription("Summarize actionable approve/deny responses received within a recent window."),
		mcp.WithNumber("since_minutes"),
	))

	bind(mcp.NewTool("clear_old_responses",
		mcp.WithDescription("Delete response files older than the given age."),
		mcp.WithNumber("older_than_hours"),
	))

	bind(mcp.NewTool("get_bridge_status", mcp.WithDescription("Get a combined view of bridge process, health, and throughput counters.")))
	bind(mcp.NewTool("list_event_types", mcp.WithDescription("List the event types send_event accepts.")))

	bind(mcp.NewTool("get_task_status",
		mcp.WithDescription("Query one or all configured task trackers."),
		mcp.WithString("project_root"),
		mcp.WithString("task_system"),
		mcp.WithString("status_filter"),
		mcp.WithBoolean("summary_only"),
	))

	bind(mcp.NewTool("get_audit_log",
		mcp.WithDescription("Query the dispatcher's append-only tool-invocation audit trail."),
		mcp.WithString("session_id"),
		mcp.WithString("tool_name"),
		mcp.WithNumber("limit"),
	))

	return s
}

func invokeTool(ctx context.Context, app *App, name string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawArgs, err := json.Marshal(req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode arguments: %v", err)), nil
	}
	correlationID := nextCorrelationID()
	ctx, logger := logging.WithCorrelationID(ctx, correlationID)
	logger.Debug().Str("tool", name).Str("args", logging.SanitizedString(app.redactor, string(rawArgs))).Msg("tool call received")

	raw := app.dispatcher.Invoke(ctx, name, rawArgs, "", correlationID)
	return convertResult(raw)
}

// convertResult translates the dispatcher's internal/mcp.MCPToolResult
// envelope into mcp-go's own CallToolResult type. Every handler in this
// binary produces exactly one text content block (via mcp.JSONResponse,
// mcp.TextResponse, or mcp.StructuredErrorResponse), so a single
// TextContent carries the whole result.
func convertResult(raw json.RawMessage) (*mcp.CallToolResult, error) {
	var parsed internalmcp.MCPToolResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("malformed tool result: %v", err)), nil
	}
	blocks := make([]mcp.Content, 0, len(parsed.Content))
	for _, b := range parsed.Content {
		blocks = append(blocks, mcp.NewTextContent(b.Text))
	}
	return &mcp.CallToolResult{IsError: parsed.IsError, Content: blocks}, nil
}

func serveStdio(app *App) error {
	return server.ServeStdio(newMCPServer(app))
}
