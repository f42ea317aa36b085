package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/dev-console/notifybridge/internal/redaction"
)

func TestInitJSONFormatWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	Init("info", "json", &buf)
	logger := FromContext(context.Background())
	logger.Info().Msg("hello")

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("expected valid JSON line, got %q: %v", buf.String(), err)
	}
	if parsed["message"] != "hello" {
		t.Fatalf("expected message field, got %+v", parsed)
	}
}

func TestInitSimpleFormatStripsToLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	Init("info", "simple", &buf)
	logger := FromContext(context.Background())
	logger.Info().Str("extra", "field").Msg("world")

	line := strings.TrimSpace(buf.String())
	if line != "info world" {
		t.Fatalf("expected %q, got %q", "info world", line)
	}
}

func TestSanitizedStringRedactsWithEngine(t *testing.T) {
	engine := redaction.NewRedactionEngine("")
	out := SanitizedString(engine, "my api_key=sk-12345")
	if out == "my api_key=sk-12345" {
		t.Fatal("expected redaction engine to alter the string")
	}
}

func TestSanitizedStringPassesThroughWithoutEngine(t *testing.T) {
	if got := SanitizedString(nil, "unchanged"); got != "unchanged" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestWithCorrelationIDAttachesField(t *testing.T) {
	var buf bytes.Buffer
	Init("info", "json", &buf)

	ctx, logger := WithCorrelationID(context.Background(), "corr-1")
	_ = ctx
	logger.Info().Msg("tagged")

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("expected valid JSON line: %v", err)
	}
	if parsed["correlation_id"] != "corr-1" {
		t.Fatalf("expected correlation_id field, got %+v", parsed)
	}
}
