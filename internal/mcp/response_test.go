package mcp

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTextResponseIsNotAnError(t *testing.T) {
	raw := TextResponse("hello")
	var result MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.IsError {
		t.Fatal("expected TextResponse to not be an error")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

func TestErrorResponseSetsIsError(t *testing.T) {
	raw := ErrorResponse("boom")
	var result MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected ErrorResponse to set IsError")
	}
}

func TestJSONResponseEmbedsDataAfterSummary(t *testing.T) {
	raw := JSONResponse("done", map[string]any{"count": 3})
	var result MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.IsError {
		t.Fatal("expected JSONResponse to not be an error")
	}
	if !strings.HasPrefix(result.Content[0].Text, "done\n") {
		t.Fatalf("expected summary prefix, got %q", result.Content[0].Text)
	}
	if !strings.Contains(result.Content[0].Text, `"count":3`) {
		t.Fatalf("expected embedded JSON data, got %q", result.Content[0].Text)
	}
}

func TestJSONResponseOmitsPrefixWhenSummaryEmpty(t *testing.T) {
	raw := JSONResponse("", map[string]any{"ok": true})
	var result MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if strings.HasPrefix(result.Content[0].Text, "\n") {
		t.Fatalf("expected no leading newline with empty summary, got %q", result.Content[0].Text)
	}
}

func TestMarkdownTableEscapesPipesAndNewlines(t *testing.T) {
	table := MarkdownTable([]string{"a", "b"}, [][]string{{"x|y", "line1\nline2"}})
	if !strings.Contains(table, `x\|y`) {
		t.Fatalf("expected escaped pipe, got %q", table)
	}
	if strings.Contains(table, "\nline2") {
		t.Fatalf("expected newline replaced with space, got %q", table)
	}
}

func TestMarkdownTableEmptyRows(t *testing.T) {
	if got := MarkdownTable([]string{"a"}, nil); got != "" {
		t.Fatalf("expected empty string for no rows, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged short string, got %q", got)
	}
	if got := Truncate("this is a long string", 10); len(got) != 10 {
		t.Fatalf("expected truncated length 10, got %q (%d)", got, len(got))
	}
}

func TestAppendWarningsNoopOnEmpty(t *testing.T) {
	result := MCPToolResult{Content: []MCPContentBlock{{Type: "text", Text: "base"}}}
	got := AppendWarnings(result, nil)
	if len(got.Content) != 1 {
		t.Fatalf("expected no warning block appended, got %+v", got.Content)
	}
}

func TestAppendWarningsAppendsBlock(t *testing.T) {
	result := MCPToolResult{Content: []MCPContentBlock{{Type: "text", Text: "base"}}}
	got := AppendWarnings(result, []string{"field x unknown"})
	if len(got.Content) != 2 {
		t.Fatalf("expected a warning block appended, got %+v", got.Content)
	}
	if !strings.Contains(got.Content[1].Text, "field x unknown") {
		t.Fatalf("expected warning text present, got %q", got.Content[1].Text)
	}
}

func TestSafeMarshalFallsBackOnError(t *testing.T) {
	got := SafeMarshal(make(chan int), `{"fallback":true}`)
	if string(got) != `{"fallback":true}` {
		t.Fatalf("expected fallback on unmarshalable value, got %s", got)
	}
}
