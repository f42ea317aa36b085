package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dev-console/notifybridge/internal/buffers"
	"github.com/dev-console/notifybridge/internal/bus"
	"github.com/dev-console/notifybridge/internal/config"
	"github.com/dev-console/notifybridge/internal/dispatch"
	"github.com/dev-console/notifybridge/internal/events"
	"github.com/dev-console/notifybridge/internal/metrics"
	"github.com/dev-console/notifybridge/internal/ratelimit"
	"github.com/dev-console/notifybridge/internal/responses"
	"github.com/dev-console/notifybridge/internal/security"
	"github.com/dev-console/notifybridge/internal/taskstatus"
)

// newTestApp builds the subset of App the tool handlers need, skipping the
// bridge/health/alerting components that require real processes or
// network calls — those are exercised by their own package tests.
func newTestApp(t *testing.T) *App {
	t.Helper()
	eventsDir := t.TempDir()
	responsesDir := t.TempDir()

	monitor, err := security.NewMonitor(nil, 0)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	app := &App{
		cfg:       &config.Config{EventsDir: eventsDir, ResponsesDir: responsesDir},
		metrics:   metrics.Init(),
		pool:      buffers.NewPool(),
		bus:       bus.New(),
		events:    events.NewPipeline(eventsDir, buffers.NewPool()),
		responses: responses.NewEngine(responsesDir, nil),
		security:  monitor,
		limiter:   ratelimit.New(ratelimit.Config{GlobalPerMinute: 600, ClientPerMinute: 120, ToolPerMinute: 60, BurstSize: 10}),
		tasks:     taskstatus.NewAggregator(),
		counters:  &counters{startedAt: time.Now()},
	}
	app.dispatcher = dispatch.New(nil, app.limiter, app.security)
	registerTools(app)
	return app
}

func decodeToolResult(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var envelope struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.IsError {
		t.Fatalf("tool call returned an error result: %s", envelope.Content[0].Text)
	}
	text := envelope.Content[0].Text
	// JSONResponse writes "summary\n{json}" or just "{json}" when summary is empty.
	for i, r := range text {
		if r == '{' || r == '[' {
			text = text[i:]
			break
		}
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		t.Fatalf("unmarshal tool data %q: %v", text, err)
	}
	return data
}

func TestSendEventWritesFileAndReturnsID(t *testing.T) {
	app := newTestApp(t)
	raw := app.dispatcher.Invoke(context.Background(), "send_event",
		json.RawMessage(`{"type":"message","title":"hi","description":"hi there"}`), "", "corr-1")
	data := decodeToolResult(t, raw)
	if data["success"] != true {
		t.Fatalf("expected success, got %+v", data)
	}
	eventID, _ := data["event_id"].(string)
	if eventID == "" {
		t.Fatal("expected a non-empty event_id")
	}

	matches, _ := filepath.Glob(filepath.Join(app.cfg.EventsDir, "*.json"))
	if len(matches) != 1 {
		t.Fatalf("expected exactly one event file, got %v", matches)
	}
}

func TestSendEventWarnsOnUnknownParameter(t *testing.T) {
	app := newTestApp(t)
	raw := app.dispatcher.Invoke(context.Background(), "send_event",
		json.RawMessage(`{"type":"message","title":"hi","description":"hi there","tpyo":"oops"}`), "", "corr-1b")

	var envelope struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(envelope.Content) != 2 {
		t.Fatalf("expected a second content block carrying the warning, got %+v", envelope.Content)
	}
	if !strings.Contains(envelope.Content[1].Text, "tpyo") {
		t.Fatalf("expected warning to name the unknown parameter, got %q", envelope.Content[1].Text)
	}
}

func TestSendEventRejectsMissingRequiredFields(t *testing.T) {
	app := newTestApp(t)
	raw := app.dispatcher.Invoke(context.Background(), "send_event", json.RawMessage(`{}`), "", "corr-2")
	var envelope struct {
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !envelope.IsError {
		t.Fatal("expected a schema-validation error for missing required fields")
	}
}

func TestSendMessageTouchesEventCounter(t *testing.T) {
	app := newTestApp(t)
	app.dispatcher.Invoke(context.Background(), "send_message", json.RawMessage(`{"message":"hello"}`), "", "corr-3")
	if app.counters.eventsProcessed.Load() != 1 {
		t.Fatalf("expected eventsProcessed to be 1, got %d", app.counters.eventsProcessed.Load())
	}
	if app.counters.lastEventTime() == nil {
		t.Fatal("expected lastEventTime to be set")
	}
}

func TestSendApprovalRequestDefaultsOptions(t *testing.T) {
	app := newTestApp(t)
	raw := app.dispatcher.Invoke(context.Background(), "send_approval_request",
		json.RawMessage(`{"title":"deploy?","description":"ship it"}`), "", "corr-4")
	data := decodeToolResult(t, raw)
	if data["success"] != true {
		t.Fatalf("expected success, got %+v", data)
	}
}

func TestGetResponsesListsRecords(t *testing.T) {
	app := newTestApp(t)
	rec := responses.Record{ResponseID: "r1", UserID: "u1", ResponseType: "text", Timestamp: time.Now()}
	raw, _ := json.Marshal(rec)
	if err := os.WriteFile(filepath.Join(app.cfg.ResponsesDir, "r1.json"), raw, 0o644); err != nil {
		t.Fatalf("write response fixture: %v", err)
	}

	result := app.dispatcher.Invoke(context.Background(), "get_responses", json.RawMessage(`{}`), "", "corr-5")
	data := decodeToolResult(t, result)
	if data["count"].(float64) != 1 {
		t.Fatalf("expected count 1, got %+v", data)
	}
}

func TestProcessPendingSummarizesApprovals(t *testing.T) {
	app := newTestApp(t)
	rec := responses.Record{
		ResponseID: "r1", UserID: "u1", ResponseType: "callback_query",
		CallbackData: "approve_task-42", Timestamp: time.Now(),
	}
	raw, _ := json.Marshal(rec)
	if err := os.WriteFile(filepath.Join(app.cfg.ResponsesDir, "r1.json"), raw, 0o644); err != nil {
		t.Fatalf("write response fixture: %v", err)
	}

	result := app.dispatcher.Invoke(context.Background(), "process_pending", json.RawMessage(`{"since_minutes":10}`), "", "corr-6")
	data := decodeToolResult(t, result)
	summary, ok := data["summary"].(map[string]any)
	if !ok || summary["approvals"].(float64) != 1 {
		t.Fatalf("expected 1 approval in summary, got %+v", data)
	}
}

func TestClearOldResponsesDeletesNothingWhenFresh(t *testing.T) {
	app := newTestApp(t)
	rec := responses.Record{ResponseID: "r1", UserID: "u1", ResponseType: "text", Timestamp: time.Now()}
	raw, _ := json.Marshal(rec)
	if err := os.WriteFile(filepath.Join(app.cfg.ResponsesDir, "r1.json"), raw, 0o644); err != nil {
		t.Fatalf("write response fixture: %v", err)
	}

	result := app.dispatcher.Invoke(context.Background(), "clear_old_responses", json.RawMessage(`{"older_than_hours":24}`), "", "corr-7")
	data := decodeToolResult(t, result)
	if data["deleted_count"].(float64) != 0 {
		t.Fatalf("expected no deletions for a fresh file, got %+v", data)
	}
}

func TestListEventTypesReturnsKnownTypes(t *testing.T) {
	app := newTestApp(t)
	result := app.dispatcher.Invoke(context.Background(), "list_event_types", json.RawMessage(`{}`), "", "corr-8")
	var envelope struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var types []string
	if err := json.Unmarshal([]byte(envelope.Content[0].Text), &types); err != nil {
		t.Fatalf("unmarshal types: %v", err)
	}
	if len(types) == 0 {
		t.Fatal("expected a non-empty list of event types")
	}
}

func TestGetAuditLogReflectsPriorInvocations(t *testing.T) {
	app := newTestApp(t)
	app.dispatcher.Invoke(context.Background(), "send_message", json.RawMessage(`{"message":"hi"}`), "", "corr-9")

	result := app.dispatcher.Invoke(context.Background(), "get_audit_log", json.RawMessage(`{}`), "", "corr-10")
	data := decodeToolResult(t, result)
	if int(data["count"].(float64)) < 2 { // send_message + this get_audit_log call itself
		t.Fatalf("expected at least 2 audit entries, got %+v", data)
	}
}

func TestGetTaskStatusWithNoTrackersReturnsEmptySummary(t *testing.T) {
	app := newTestApp(t)
	result := app.dispatcher.Invoke(context.Background(), "get_task_status", json.RawMessage(`{}`), "", "corr-11")
	data := decodeToolResult(t, result)
	if data == nil {
		t.Fatal("expected a summary object")
	}
}
