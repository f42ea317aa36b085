// errors.go — structured error taxonomy shared by every tool handler.
package mcp

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies an error the way a caller (human or LLM) needs to act
// on it: retry immediately, change credentials, wait, or give up.
type ErrorKind string

const (
	KindAuthentication    ErrorKind = "authentication"
	KindAuthorization     ErrorKind = "authorization"
	KindValidation        ErrorKind = "validation"
	KindRateLimit         ErrorKind = "rate_limit"
	KindSecurity          ErrorKind = "security"
	KindBridgeUnavailable ErrorKind = "bridge_unavailable"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network"
	KindInternal          ErrorKind = "internal"
)

// Error codes are self-describing snake_case strings. Every code tells the
// caller what went wrong without a lookup table.
const (
	ErrInvalidJSON       = "invalid_json"
	ErrMissingParam      = "missing_param"
	ErrInvalidParam      = "invalid_param"
	ErrUnknownTool       = "unknown_tool"
	ErrPathNotAllowed    = "path_not_allowed"
	ErrAuthRequired      = "authentication_required"
	ErrAuthDenied        = "authorization_denied"
	ErrRateLimited       = "rate_limited"
	ErrSecurityBlocked   = "security_blocked"
	ErrBridgeUnavailable = "bridge_unavailable"
	ErrBridgeStartFailed = "bridge_start_failed"
	ErrNoData            = "no_data"
	ErrExtTimeout        = "extension_timeout"
	ErrExtError          = "extension_error"
	ErrInternal          = "internal_error"
	ErrMarshalFailed     = "marshal_failed"
)

// StructuredError is the uniform error envelope every tool failure returns
// (§7): {error: true, kind, message, details{}, retry_after_s?, correlation_id}.
type StructuredError struct {
	Error         bool           `json:"error"`
	Code          string         `json:"code"`
	Kind          string         `json:"kind"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	RetryAfterS   float64        `json:"retry_after_s,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Retryable     bool           `json:"retryable"`
	Final         bool           `json:"final,omitempty"`
}

// KindForCode maps an error code to its taxonomy kind (§7).
func KindForCode(code string) ErrorKind {
	switch code {
	case ErrAuthRequired:
		return KindAuthentication
	case ErrAuthDenied:
		return KindAuthorization
	case ErrInvalidJSON, ErrMissingParam, ErrInvalidParam, ErrUnknownTool, ErrPathNotAllowed:
		return KindValidation
	case ErrRateLimited:
		return KindRateLimit
	case ErrSecurityBlocked:
		return KindSecurity
	case ErrBridgeUnavailable, ErrBridgeStartFailed:
		return KindBridgeUnavailable
	case ErrExtTimeout:
		return KindTimeout
	case ErrExtError:
		return KindNetwork
	default:
		return KindInternal
	}
}

// StructuredErrorResponse constructs an MCP error response carrying the
// uniform envelope (§7). hint is folded into details["hint"] when set via
// WithHint, and correlationID is populated by the dispatcher (C16).
func StructuredErrorResponse(code, message, hint string, opts ...func(*StructuredError)) json.RawMessage {
	se := StructuredError{Error: true, Code: code, Kind: string(KindForCode(code)), Message: message}
	if hint != "" {
		se.Details = map[string]any{"hint": hint}
	}
	for _, defaultOpt := range RetryDefaultsForCode(code) {
		defaultOpt(&se)
	}
	for _, opt := range opts {
		opt(&se)
	}

	seJSON, _ := json.Marshal(se)
	text := fmt.Sprintf("Error: %s — %s\n%s", code, message, string(seJSON))

	result := MCPToolResult{
		Content: []MCPContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
	return SafeMarshal(result, `{"content":[{"type":"text","text":"Internal error: failed to marshal result"}],"isError":true}`)
}

// WithParam adds the offending param name to a StructuredError's details.
func WithParam(p string) func(*StructuredError) {
	return func(se *StructuredError) { se.setDetail("param", p) }
}

// WithHint adds a human-readable hint to a StructuredError's details.
func WithHint(h string) func(*StructuredError) {
	return func(se *StructuredError) { se.setDetail("hint", h) }
}

// WithRetryable overrides whether the error is retryable.
func WithRetryable(retryable bool) func(*StructuredError) {
	return func(se *StructuredError) { se.Retryable = retryable }
}

// WithRetryAfterMs sets the suggested delay before retrying, expressed in
// the envelope's seconds field (§7: retry_after_s).
func WithRetryAfterMs(ms int) func(*StructuredError) {
	return func(se *StructuredError) { se.RetryAfterS = float64(ms) / 1000 }
}

// WithCorrelationID stamps the envelope with the invocation's correlation id.
func WithCorrelationID(id string) func(*StructuredError) {
	return func(se *StructuredError) { se.CorrelationID = id }
}

// WithFinal marks a structured error as terminal for async flows.
func WithFinal(final bool) func(*StructuredError) {
	return func(se *StructuredError) { se.Final = final }
}

func (se *StructuredError) setDetail(key string, value any) {
	if se.Details == nil {
		se.Details = map[string]any{}
	}
	se.Details[key] = value
}

// RetryDefaultsForCode returns option functions that set retryable and
// retry_after_s based on the error code. Retryable errors are transient
// conditions the caller can retry after a brief delay; non-retryable errors
// require changing the input or the environment first.
func RetryDefaultsForCode(code string) []func(*StructuredError) {
	switch code {
	case ErrExtTimeout:
		return []func(*StructuredError){WithRetryable(true), WithRetryAfterMs(1000)}
	case ErrExtError:
		return []func(*StructuredError){WithRetryable(true), WithRetryAfterMs(2000)}
	case ErrRateLimited:
		return []func(*StructuredError){WithRetryable(true), WithRetryAfterMs(1000)}
	case ErrBridgeUnavailable:
		return []func(*StructuredError){WithRetryable(true), WithRetryAfterMs(3000)}
	case ErrNoData:
		return []func(*StructuredError){WithRetryable(true), WithRetryAfterMs(2000)}
	default:
		return []func(*StructuredError){WithRetryable(false)}
	}
}
