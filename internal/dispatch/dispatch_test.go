package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dev-console/notifybridge/internal/audit"
	"github.com/dev-console/notifybridge/internal/mcp"
	"github.com/dev-console/notifybridge/internal/ratelimit"
	"github.com/dev-console/notifybridge/internal/security"
)

func compileSchema(t *testing.T, schemaJSON string) *jsonschema.Schema {
	t.Helper()
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", mustUnmarshal(t, schemaJSON)); err != nil {
		t.Fatalf("add resource: %v", err)
	}
	s, err := c.Compile("schema.json")
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return s
}

func mustUnmarshal(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}
	return v
}

func echoTool(name string, schema *jsonschema.Schema) Tool {
	return Tool{
		Name:   name,
		Schema: schema,
		Handler: func(ctx context.Context, args json.RawMessage, identity Identity) (json.RawMessage, error) {
			return json.Marshal(map[string]any{"ok": true})
		},
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	d := New(nil, nil, nil)
	raw := d.Invoke(context.Background(), "does_not_exist", json.RawMessage(`{}`), "", "corr-1")
	assertErrorCode(t, raw, mcp.ErrUnknownTool)
}

func TestInvokeSchemaValidationFailure(t *testing.T) {
	schema := compileSchema(t, `{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`)
	d := New(nil, nil, nil)
	d.Register(echoTool("send_event", schema))

	raw := d.Invoke(context.Background(), "send_event", json.RawMessage(`{}`), "", "corr-2")
	assertErrorCode(t, raw, mcp.ErrInvalidParam)
}

func TestInvokeSucceedsWithValidArgs(t *testing.T) {
	schema := compileSchema(t, `{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`)
	d := New(nil, nil, nil)
	d.Register(echoTool("send_event", schema))

	raw := d.Invoke(context.Background(), "send_event", json.RawMessage(`{"title":"hi"}`), "", "corr-3")
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if m["ok"] != true {
		t.Fatalf("expected handler result to pass through, got %v", m)
	}
}

func TestInvokeAuthenticationRequired(t *testing.T) {
	auth := func(apiKey string) (Identity, bool) {
		if apiKey == "good" {
			return Identity{ClientID: "c1"}, true
		}
		return Identity{}, false
	}
	d := New(auth, nil, nil)
	d.Register(echoTool("send_event", nil))

	raw := d.Invoke(context.Background(), "send_event", json.RawMessage(`{}`), "bad", "corr-4")
	assertErrorCode(t, raw, mcp.ErrAuthRequired)
}

type fixedLimiter struct{ allow bool }

func (f fixedLimiter) Allow(clientID, toolName string) ratelimit.Decision {
	if f.allow {
		return ratelimit.Decision{Allowed: true}
	}
	return ratelimit.Decision{Allowed: false, Exhausted: "tool"}
}

func TestInvokeRateLimited(t *testing.T) {
	d := New(nil, fixedLimiter{allow: false}, nil)
	d.Register(echoTool("send_event", nil))

	raw := d.Invoke(context.Background(), "send_event", json.RawMessage(`{}`), "", "corr-5")
	assertErrorCode(t, raw, mcp.ErrRateLimited)
}

type fixedScanner struct{ findings []security.Finding }

func (f fixedScanner) Scan(clientID, input string) []security.Finding { return f.findings }

func TestInvokeSecurityBlocked(t *testing.T) {
	d := New(nil, nil, fixedScanner{findings: []security.Finding{{Pattern: "script-tag", Severity: "high"}}})
	d.Register(echoTool("send_message", nil))

	raw := d.Invoke(context.Background(), "send_message", json.RawMessage(`{"message":"<script>"}`), "", "corr-6")
	assertErrorCode(t, raw, mcp.ErrSecurityBlocked)
}

func TestInvokeRecordsAuditEntry(t *testing.T) {
	schema := compileSchema(t, `{"type":"object","required":["title"],"properties":{"title":{"type":"string"}}}`)
	d := New(nil, nil, nil)
	d.Register(echoTool("send_event", schema))

	d.Invoke(context.Background(), "send_event", json.RawMessage(`{"title":"hi"}`), "", "corr-7")

	entries := d.AuditTrail().Query(audit.AuditFilter{})
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if entries[0].ToolName != "send_event" || !entries[0].Success {
		t.Fatalf("expected a successful send_event audit entry, got %+v", entries[0])
	}
}

func TestInvokeRecordsFailedAuditEntry(t *testing.T) {
	d := New(nil, nil, nil)
	d.Invoke(context.Background(), "does_not_exist", json.RawMessage(`{}`), "", "corr-8")

	entries := d.AuditTrail().Query(audit.AuditFilter{})
	if len(entries) != 1 || entries[0].Success {
		t.Fatalf("expected 1 failed audit entry, got %+v", entries)
	}
}

func TestInvokeDeniesToolWhenIdentityLacksCapability(t *testing.T) {
	auth := func(apiKey string) (Identity, bool) {
		return Identity{ClientID: "c1", Permissions: []string{"events:write"}}, true
	}
	d := New(auth, nil, nil)
	d.Register(Tool{
		Name:         "stop_bridge",
		Capabilities: []string{"bridge:control"},
		Handler: func(ctx context.Context, args json.RawMessage, identity Identity) (json.RawMessage, error) {
			return json.Marshal(map[string]any{"ok": true})
		},
	})

	raw := d.Invoke(context.Background(), "stop_bridge", json.RawMessage(`{}`), "key", "corr-9")
	assertErrorCode(t, raw, mcp.ErrAuthDenied)
}

func TestInvokeAllowsToolWhenIdentityHasCapability(t *testing.T) {
	auth := func(apiKey string) (Identity, bool) {
		return Identity{ClientID: "c1", Permissions: []string{"bridge:control"}}, true
	}
	d := New(auth, nil, nil)
	d.Register(Tool{
		Name:         "stop_bridge",
		Capabilities: []string{"bridge:control"},
		Handler: func(ctx context.Context, args json.RawMessage, identity Identity) (json.RawMessage, error) {
			return json.Marshal(map[string]any{"ok": true})
		},
	})

	raw := d.Invoke(context.Background(), "stop_bridge", json.RawMessage(`{}`), "key", "corr-10")
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if m["ok"] != true {
		t.Fatalf("expected handler result to pass through, got %v", m)
	}
}

func TestInvokeSkipsCapabilityCheckWhenAuthDisabled(t *testing.T) {
	d := New(nil, nil, nil)
	d.Register(Tool{
		Name:         "stop_bridge",
		Capabilities: []string{"bridge:control"},
		Handler: func(ctx context.Context, args json.RawMessage, identity Identity) (json.RawMessage, error) {
			return json.Marshal(map[string]any{"ok": true})
		},
	})

	raw := d.Invoke(context.Background(), "stop_bridge", json.RawMessage(`{}`), "", "corr-11")
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if m["ok"] != true {
		t.Fatalf("expected capability check to be skipped with auth disabled, got %v", m)
	}
}

func assertErrorCode(t *testing.T, raw json.RawMessage, wantCode string) {
	t.Helper()
	var result mcp.MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result, got %s", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, wantCode) {
		t.Fatalf("expected error code %s in %q", wantCode, result.Content[0].Text)
	}
}
