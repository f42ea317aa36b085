// tools.go — the 16-tool surface (§6.1) plus get_audit_log, each a
// dispatch.Tool registered against app.dispatcher. Every handler validates
// nothing itself beyond what its compiled JSON schema already guarantees;
// business logic lives in the internal/* packages this file only wires
// together, matching the teacher's thin-handler/fat-package split in
// cmd/dev-console's tools_core.go.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dev-console/notifybridge/internal/bus"
	"github.com/dev-console/notifybridge/internal/dispatch"
	"github.com/dev-console/notifybridge/internal/events"
	"github.com/dev-console/notifybridge/internal/mcp"
)

// mustSchema compiles a JSON Schema literal at startup. A malformed schema
// is a programming error, not a runtime condition, so it panics rather
// than threading an error return through every tool registration.
func mustSchema(name, schemaJSON string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal([]byte(schemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("tool schema %s: %v", name, err))
	}
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("tool schema %s: %v", name, err))
	}
	s, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("tool schema %s: %v", name, err))
	}
	return s
}

func registerTools(app *App) {
	d := app.dispatcher

	d.Register(dispatch.Tool{
		Name: "send_event",
		Schema: mustSchema("send_event.json", `{
			"type":"object","required":["type","title","description"],
			"properties":{
				"type":{"type":"string"},
				"title":{"type":"string"},
				"description":{"type":"string"},
				"task_id":{"type":"string"},
				"source":{"type":"string"},
				"data":{"type":"object"}
			}
		}`),
		Handler: app.handleSendEvent,
	})

	d.Register(dispatch.Tool{
		Name: "send_message",
		Schema: mustSchema("send_message.json", `{
			"type":"object","required":["message"],
			"properties":{"message":{"type":"string"},"source":{"type":"string"}}
		}`),
		Handler: app.handleSendMessage,
	})

	d.Register(dispatch.Tool{
		Name: "send_task_completion",
		Schema: mustSchema("send_task_completion.json", `{
			"type":"object","required":["task_id","title"],
			"properties":{
				"task_id":{"type":"string"},
				"title":{"type":"string"},
				"results":{"type":"string"},
				"files_affected":{"type":"array","items":{"type":"string"}},
				"duration_ms":{"type":"number"}
			}
		}`),
		Handler: app.handleSendTaskCompletion,
	})

	d.Register(dispatch.Tool{
		Name: "send_performance_alert",
		Schema: mustSchema("send_performance_alert.json", `{
			"type":"object","required":["title","current_value","threshold"],
			"properties":{
				"title":{"type":"string"},
				"current_value":{"type":"number"},
				"threshold":{"type":"number"},
				"severity":{"type":"string"}
			}
		}`),
		Handler: app.handleSendPerformanceAlert,
	})

	d.Register(dispatch.Tool{
		Name: "send_approval_request",
		Schema: mustSchema("send_approval_request.json", `{
			"type":"object","required":["title","description"],
			"properties":{
				"title":{"type":"string"},
				"description":{"type":"string"},
				"options":{"type":"array","items":{"type":"string"}}
			}
		}`),
		Handler: app.handleSendApprovalRequest,
	})

	d.Register(dispatch.Tool{Name: "start_bridge", Capabilities: []string{"bridge:control"}, Handler: app.handleStartBridge})
	d.Register(dispatch.Tool{Name: "stop_bridge", Capabilities: []string{"bridge:control"}, Handler: app.handleStopBridge})
	d.Register(dispatch.Tool{Name: "restart_bridge", Capabilities: []string{"bridge:control"}, Handler: app.handleRestartBridge})
	d.Register(dispatch.Tool{Name: "ensure_bridge_running", Handler: app.handleEnsureBridgeRunning})
	d.Register(dispatch.Tool{Name: "check_bridge_process", Handler: app.handleCheckBridgeProcess})

	d.Register(dispatch.Tool{
		Name: "get_responses",
		Schema: mustSchema("get_responses.json", `{
			"type":"object","properties":{"limit":{"type":"number"}}
		}`),
		Handler: app.handleGetResponses,
	})

	d.Register(dispatch.Tool{
		Name: "process_pending",
		Schema: mustSchema("process_pending.json", `{
			"type":"object","properties":{"since_minutes":{"type":"number"}}
		}`),
		Handler: app.handleProcessPending,
	})

	d.Register(dispatch.Tool{
		Name: "clear_old_responses",
		Schema: mustSchema("clear_old_responses.json", `{
			"type":"object","properties":{"older_than_hours":{"type":"number"}}
		}`),
		Handler: app.handleClearOldResponses,
	})

	d.Register(dispatch.Tool{Name: "get_bridge_status", Handler: app.handleGetBridgeStatus})
	d.Register(dispatch.Tool{Name: "list_event_types", Handler: app.handleListEventTypes})

	d.Register(dispatch.Tool{
		Name: "get_task_status",
		Schema: mustSchema("get_task_status.json", `{
			"type":"object","properties":{
				"project_root":{"type":"string"},
				"task_system":{"type":"string"},
				"status_filter":{"type":"string"},
				"summary_only":{"type":"boolean"}
			}
		}`),
		Handler: app.handleGetTaskStatus,
	})

	d.Register(dispatch.Tool{
		Name: "get_audit_log",
		Schema: mustSchema("get_audit_log.json", `{
			"type":"object","properties":{
				"session_id":{"type":"string"},
				"tool_name":{"type":"string"},
				"limit":{"type":"number"}
			}
		}`),
		Capabilities: []string{"audit:read"},
		Handler:      app.handleGetAuditLog,
	})
}

func (app *App) handleSendEvent(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		Type        string         `json:"type"`
		Title       string         `json:"title"`
		Description string         `json:"description"`
		TaskID      string         `json:"task_id"`
		Source      string         `json:"source"`
		Data        map[string]any `json:"data"`
	}
	warnings, err := mcp.UnmarshalWithWarnings(args, &in)
	if err != nil {
		return nil, err
	}
	result, err := app.events.Write(events.Event{
		Type: events.Type(in.Type), Title: in.Title, Description: in.Description,
		TaskID: in.TaskID, Source: in.Source, Data: in.Data,
	})
	if err != nil {
		app.metrics.EventsTotal.WithLabelValues(in.Type, "error").Inc()
		app.counters.touchError()
		return nil, err
	}
	app.metrics.EventsTotal.WithLabelValues(in.Type, "accepted").Inc()
	app.counters.touchEvent()
	return jsonResponseWithWarnings("", map[string]any{
		"success": true, "event_id": result.EventID, "file_path": result.FilePath,
	}, warnings), nil
}

func (app *App) handleSendMessage(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		Message string `json:"message"`
		Source  string `json:"source"`
	}
	warnings, err := mcp.UnmarshalWithWarnings(args, &in)
	if err != nil {
		return nil, err
	}
	result, err := app.events.Write(events.Event{
		Type: events.TypeMessage, Title: in.Message, Description: in.Message, Source: in.Source,
	})
	if err != nil {
		app.metrics.EventsTotal.WithLabelValues(string(events.TypeMessage), "error").Inc()
		app.counters.touchError()
		return nil, err
	}
	app.metrics.EventsTotal.WithLabelValues(string(events.TypeMessage), "accepted").Inc()
	app.counters.touchEvent()
	return jsonResponseWithWarnings("", map[string]any{"success": true, "event_id": result.EventID}, warnings), nil
}

func (app *App) handleSendTaskCompletion(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		TaskID        string   `json:"task_id"`
		Title         string   `json:"title"`
		Results       string   `json:"results"`
		FilesAffected []string `json:"files_affected"`
		DurationMs    int64    `json:"duration_ms"`
	}
	warnings, err := mcp.UnmarshalWithWarnings(args, &in)
	if err != nil {
		return nil, err
	}
	result, err := app.events.Write(events.Event{
		Type: events.TypeTaskCompletion, Title: in.Title, TaskID: in.TaskID,
		Data: map[string]any{"results": in.Results, "files_affected": in.FilesAffected, "duration_ms": in.DurationMs},
	})
	if err != nil {
		app.metrics.EventsTotal.WithLabelValues(string(events.TypeTaskCompletion), "error").Inc()
		app.counters.touchError()
		return nil, err
	}
	app.metrics.EventsTotal.WithLabelValues(string(events.TypeTaskCompletion), "accepted").Inc()
	app.counters.touchEvent()
	return jsonResponseWithWarnings("", map[string]any{"success": true, "event_id": result.EventID}, warnings), nil
}

func (app *App) handleSendPerformanceAlert(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		Title        string  `json:"title"`
		CurrentValue float64 `json:"current_value"`
		Threshold    float64 `json:"threshold"`
		Severity     string  `json:"severity"`
	}
	warnings, err := mcp.UnmarshalWithWarnings(args, &in)
	if err != nil {
		return nil, err
	}
	if in.Severity == "" {
		in.Severity = "warning"
	}
	result, err := app.events.Write(events.Event{
		Type: events.TypePerformanceAlert, Title: in.Title,
		Data: map[string]any{"current_value": in.CurrentValue, "threshold": in.Threshold, "severity": in.Severity},
	})
	if err != nil {
		app.metrics.EventsTotal.WithLabelValues(string(events.TypePerformanceAlert), "error").Inc()
		app.counters.touchError()
		return nil, err
	}
	app.metrics.EventsTotal.WithLabelValues(string(events.TypePerformanceAlert), "accepted").Inc()
	app.counters.touchEvent()
	app.bus.Publish(bus.Event{Source: "performance", Kind: "alert", Payload: in.CurrentValue})
	return jsonResponseWithWarnings("", map[string]any{"success": true, "event_id": result.EventID}, warnings), nil
}

func (app *App) handleSendApprovalRequest(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Options     []string `json:"options"`
	}
	warnings, err := mcp.UnmarshalWithWarnings(args, &in)
	if err != nil {
		return nil, err
	}
	if len(in.Options) == 0 {
		in.Options = []string{"Approve", "Deny"}
	}
	result, err := app.events.Write(events.Event{
		Type: events.TypeApprovalRequest, Title: in.Title, Description: in.Description,
		Data: map[string]any{"options": in.Options},
	})
	if err != nil {
		app.metrics.EventsTotal.WithLabelValues(string(events.TypeApprovalRequest), "error").Inc()
		app.counters.touchError()
		return nil, err
	}
	app.metrics.EventsTotal.WithLabelValues(string(events.TypeApprovalRequest), "accepted").Inc()
	app.counters.touchEvent()
	return jsonResponseWithWarnings("", map[string]any{"success": true, "event_id": result.EventID}, warnings), nil
}

func (app *App) handleStartBridge(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	if err := app.manager.EnsureReady(ctx); err != nil {
		return mcp.JSONResponse("", map[string]any{"success": false, "message": err.Error()}), nil
	}
	app.metrics.BridgeUp.Set(1)
	resp := map[string]any{"success": true, "message": "bridge running"}
	if pid, ok := app.manager.Pid(); ok {
		resp["pid"] = pid
	}
	return mcp.JSONResponse("", resp), nil
}

func (app *App) handleStopBridge(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	if err := app.manager.Stop(); err != nil {
		return mcp.JSONResponse("", map[string]any{"success": false, "message": err.Error()}), nil
	}
	app.metrics.BridgeUp.Set(0)
	return mcp.JSONResponse("", map[string]any{"success": true, "message": "bridge stopped"}), nil
}

func (app *App) handleRestartBridge(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	if err := app.manager.Restart(ctx); err != nil {
		return mcp.JSONResponse("", map[string]any{"success": false, "message": err.Error()}), nil
	}
	app.metrics.BridgeRestarts.Inc()
	app.metrics.BridgeUp.Set(1)
	resp := map[string]any{"success": true, "message": "bridge restarted"}
	if pid, ok := app.manager.Pid(); ok {
		resp["pid"] = pid
	}
	return mcp.JSONResponse("", resp), nil
}

func (app *App) handleEnsureBridgeRunning(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	if app.manager.IsRunningCached(ctx) {
		return mcp.JSONResponse("", map[string]any{"success": true, "action": "already_running"}), nil
	}
	if err := app.manager.EnsureReady(ctx); err != nil {
		return mcp.JSONResponse("", map[string]any{"success": false, "action": "failed"}), nil
	}
	app.metrics.BridgeUp.Set(1)
	return mcp.JSONResponse("", map[string]any{"success": true, "action": "started"}), nil
}

func (app *App) handleCheckBridgeProcess(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	running := app.manager.Probe(ctx)
	resp := map[string]any{"running": running}
	if pid, ok := app.manager.Pid(); ok {
		resp["pid"] = pid
	}
	return mcp.JSONResponse("", resp), nil
}

func (app *App) handleGetResponses(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		Limit int `json:"limit"`
	}
	mcp.LenientUnmarshal(args, &in)
	if in.Limit == 0 {
		in.Limit = 10
	}
	result, err := app.responses.List(in.Limit)
	if err != nil {
		return nil, err
	}
	app.metrics.ResponsesTotal.WithLabelValues("listed").Add(float64(result.Count))
	return mcp.JSONResponse("", result), nil
}

func (app *App) handleProcessPending(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		SinceMinutes int `json:"since_minutes"`
	}
	mcp.LenientUnmarshal(args, &in)
	if in.SinceMinutes == 0 {
		in.SinceMinutes = 10
	}
	summary, entries, err := app.responses.ProcessPending(in.SinceMinutes)
	if err != nil {
		return nil, err
	}
	var recommendations []string
	if summary.Approvals > 0 {
		recommendations = append(recommendations, fmt.Sprintf("%d approval(s) ready to act on", summary.Approvals))
	}
	if summary.Denials > 0 {
		recommendations = append(recommendations, fmt.Sprintf("%d denial(s) ready to act on", summary.Denials))
	}
	app.metrics.ResponsesTotal.WithLabelValues("actionable").Add(float64(summary.Actionable))
	return mcp.JSONResponse("", map[string]any{
		"summary": summary, "actionable": entries, "recommendations": recommendations,
	}), nil
}

func (app *App) handleClearOldResponses(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		OlderThanHours float64 `json:"older_than_hours"`
	}
	mcp.LenientUnmarshal(args, &in)
	if in.OlderThanHours == 0 {
		in.OlderThanHours = 24
	}
	deleted, errs := app.responses.ClearOlderThan(in.OlderThanHours)
	if len(errs) > 0 {
		return mcp.JSONResponse("partial failure clearing old responses", map[string]any{
			"deleted_count": deleted, "errors": errorStrings(errs),
		}), nil
	}
	return mcp.JSONResponse("", map[string]any{"deleted_count": deleted}), nil
}

// jsonResponseWithWarnings is mcp.JSONResponse plus any unknown-parameter
// warnings mcp.UnmarshalWithWarnings collected while decoding the request,
// so a misspelled optional field surfaces to the caller instead of
// silently no-opping.
func jsonResponseWithWarnings(summary string, data any, warnings []string) json.RawMessage {
	raw := mcp.JSONResponse(summary, data)
	if len(warnings) == 0 {
		return raw
	}
	var result mcp.MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return raw
	}
	return mcp.SafeMarshal(mcp.AppendWarnings(result, warnings), string(raw))
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

// bridgeStatus mirrors §3.3's status shape.
type bridgeStatus struct {
	Running        bool       `json:"running"`
	Health         string     `json:"health"`
	UptimeSeconds  float64    `json:"uptime_seconds"`
	EventsProcessed int       `json:"events_processed"`
	ErrorCount     int        `json:"error_count"`
	LastEventTime  *jsonTime  `json:"last_event_time,omitempty"`
	CachedAt       jsonTime   `json:"cached_at"`
}

func (app *App) handleGetBridgeStatus(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	running := app.manager.IsRunningCached(ctx)
	status := bridgeStatus{
		Running:         running,
		Health:          string(app.health.Overall()),
		UptimeSeconds:   timeSince(app.counters.startedAt),
		EventsProcessed: int(app.counters.eventsProcessed.Load()),
		ErrorCount:      int(app.counters.errorCount.Load()),
		CachedAt:        jsonTimeNow(),
	}
	if t := app.counters.lastEventTime(); t != nil {
		jt := jsonTime(*t)
		status.LastEventTime = &jt
	}
	return mcp.JSONResponse("", status), nil
}

func (app *App) handleListEventTypes(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	types := []events.Type{
		events.TypeMessage, events.TypeTaskCompletion, events.TypePerformanceAlert,
		events.TypeApprovalRequest, events.TypeSecurityEvent, events.TypeCustom,
	}
	return mcp.JSONResponse("", types), nil
}

func (app *App) handleGetTaskStatus(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	var in struct {
		ProjectRoot  string `json:"project_root"`
		TaskSystem   string `json:"task_system"`
		StatusFilter string `json:"status_filter"`
		SummaryOnly  bool   `json:"summary_only"`
	}
	mcp.LenientUnmarshal(args, &in)
	summary := app.tasks.Query(in.TaskSystem, in.StatusFilter, in.SummaryOnly)
	return mcp.JSONResponse("", summary), nil
}

func (app *App) handleGetAuditLog(ctx context.Context, args json.RawMessage, identity dispatch.Identity) (json.RawMessage, error) {
	result, err := app.dispatcher.AuditTrail().HandleGetAuditLog(args)
	if err != nil {
		return nil, err
	}
	return mcp.JSONResponse("", result), nil
}
