package mcp

import (
	"encoding/json"
	"testing"
)

func TestStructuredErrorResponseEnvelopeShape(t *testing.T) {
	raw := StructuredErrorResponse(ErrRateLimited, "too many requests", "", WithCorrelationID("corr-1"))

	var result MCPToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("unmarshal tool result: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError true")
	}

	body := result.Content[0].Text
	jsonStart := -1
	for i, c := range body {
		if c == '{' {
			jsonStart = i
			break
		}
	}
	if jsonStart < 0 {
		t.Fatalf("expected embedded JSON envelope in %q", body)
	}

	var se StructuredError
	if err := json.Unmarshal([]byte(body[jsonStart:]), &se); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !se.Error {
		t.Fatal("expected error=true")
	}
	if se.Kind != string(KindRateLimit) {
		t.Fatalf("expected kind=rate_limit, got %s", se.Kind)
	}
	if se.RetryAfterS <= 0 {
		t.Fatalf("expected positive retry_after_s, got %v", se.RetryAfterS)
	}
	if se.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation id propagated, got %s", se.CorrelationID)
	}
}

func TestKindForCodeCoversTaxonomy(t *testing.T) {
	cases := map[string]ErrorKind{
		ErrAuthRequired:      KindAuthentication,
		ErrAuthDenied:        KindAuthorization,
		ErrInvalidParam:      KindValidation,
		ErrRateLimited:       KindRateLimit,
		ErrSecurityBlocked:   KindSecurity,
		ErrBridgeUnavailable: KindBridgeUnavailable,
		ErrExtTimeout:        KindTimeout,
		ErrExtError:          KindNetwork,
		ErrInternal:          KindInternal,
	}
	for code, want := range cases {
		if got := KindForCode(code); got != want {
			t.Errorf("KindForCode(%s) = %s, want %s", code, got, want)
		}
	}
}
