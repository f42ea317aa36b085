// Package dispatch implements the tool dispatcher (C16): a declarative
// registry of {name, schema, capabilities, handler} entries and the fixed
// authn/lookup/validate/rate-limit/security/dispatch invocation order.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dev-console/notifybridge/internal/audit"
	"github.com/dev-console/notifybridge/internal/mcp"
	"github.com/dev-console/notifybridge/internal/ratelimit"
	"github.com/dev-console/notifybridge/internal/security"
)

// Redactor scrubs sensitive content out of a tool result before it leaves
// the dispatcher, so secrets embedded in a handler's output (a leaked
// credential echoed back in an error message, for instance) never reach
// the MCP client or the audit trail's response-size accounting (§4.13,
// secure_logging). A nil Redactor disables scrubbing entirely.
type Redactor interface {
	RedactJSON(json.RawMessage) json.RawMessage
}

// Identity describes the caller resolved by authentication.
type Identity struct {
	ClientID    string
	Permissions []string
}

// Handler executes a registered tool. args is the raw (already schema
// validated) JSON arguments object.
type Handler func(ctx context.Context, args json.RawMessage, identity Identity) (json.RawMessage, error)

// Tool is one registry entry (§9 design note: dynamic dispatch via a
// tool-name map rather than reflection).
type Tool struct {
	Name         string
	Schema       *jsonschema.Schema
	Capabilities []string
	Handler      Handler
}

// Authenticator validates an API key and returns the resolved identity.
// A nil Authenticator disables authentication entirely.
type Authenticator func(apiKey string) (Identity, bool)

// RateLimiter is the subset of ratelimit.Limiter the dispatcher needs.
type RateLimiter interface {
	Allow(clientID, toolName string) ratelimit.Decision
}

// SecurityScanner is the subset of security.Monitor the dispatcher needs.
type SecurityScanner interface {
	Scan(clientID, input string) []security.Finding
}

// Dispatcher is stateless across calls aside from its references to shared
// components (§4.1); concurrent invocations are safe.
type Dispatcher struct {
	mu    sync.RWMutex
	tools map[string]Tool

	authenticate Authenticator
	limiter      RateLimiter
	scanner      SecurityScanner
	redactor     Redactor
	trail        *audit.AuditTrail
}

// New constructs a Dispatcher. auth may be nil to disable authentication.
func New(auth Authenticator, limiter RateLimiter, scanner SecurityScanner) *Dispatcher {
	return &Dispatcher{
		tools:        map[string]Tool{},
		authenticate: auth,
		limiter:      limiter,
		scanner:      scanner,
		trail:        audit.NewAuditTrail(audit.AuditConfig{}),
	}
}

// WithRedactor attaches a Redactor that scrubs every outgoing tool result.
// Returns d so it can be chained onto New.
func (d *Dispatcher) WithRedactor(r Redactor) *Dispatcher {
	d.redactor = r
	return d
}

// AuditTrail returns the dispatcher's append-only invocation log, so the
// admin surface can expose get_audit_log.
func (d *Dispatcher) AuditTrail() *audit.AuditTrail {
	return d.trail
}

// Register adds a tool to the registry. Re-registering the same name
// replaces the prior entry.
func (d *Dispatcher) Register(t Tool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tools[t.Name] = t
}

// Invoke runs the fixed authenticate/authorize/lookup/validate/rate-limit/
// security-scan/handle pipeline (§4.1) and always returns a result — errors
// are wrapped into the uniform envelope (§7), never returned as a Go error,
// so callers can hand the return value straight back to the MCP transport.
// The result is redacted (if a Redactor is attached) after every other step,
// so a handler echoing a secret back never reaches the transport unscrubbed.
func (d *Dispatcher) Invoke(ctx context.Context, toolName string, rawArgs json.RawMessage, apiKey, correlationID string) (result json.RawMessage) {
	start := time.Now()
	identity := Identity{ClientID: "anonymous"}
	var failureReason string

	defer func() {
		if d.redactor != nil {
			result = d.redactor.RedactJSON(result)
		}
	}()

	defer func() {
		d.trail.Record(audit.AuditEntry{
			SessionID:    correlationID,
			ClientID:     identity.ClientID,
			ToolName:     toolName,
			Parameters:   string(rawArgs),
			ResponseSize: len(result),
			Duration:     time.Since(start).Milliseconds(),
			Success:      failureReason == "",
			ErrorMessage: failureReason,
		})
	}()

	if d.authenticate != nil {
		id, ok := d.authenticate(apiKey)
		if !ok {
			failureReason = "authentication failed"
			result = d.errorEnvelope(mcp.ErrAuthRequired, "authentication failed", correlationID)
			return result
		}
		identity = id
	}

	d.mu.RLock()
	tool, known := d.tools[toolName]
	d.mu.RUnlock()
	if !known {
		failureReason = "unknown tool"
		result = d.errorEnvelope(mcp.ErrUnknownTool, fmt.Sprintf("unknown tool: %s", toolName), correlationID)
		return result
	}

	if d.authenticate != nil && !hasAllCapabilities(identity.Permissions, tool.Capabilities) {
		failureReason = "authorization denied"
		result = mcp.StructuredErrorResponse(mcp.ErrAuthDenied, "identity lacks a required capability", "",
			mcp.WithCorrelationID(correlationID), mcp.WithHint(fmt.Sprintf("tool %s requires %v", toolName, tool.Capabilities)))
		return result
	}

	if tool.Schema != nil {
		var doc any
		if err := json.Unmarshal(rawArgs, &doc); err != nil {
			failureReason = "invalid JSON arguments"
			result = d.errorEnvelope(mcp.ErrInvalidJSON, "arguments are not valid JSON", correlationID)
			return result
		}
		if err := tool.Schema.Validate(doc); err != nil {
			failureReason = "schema validation failed"
			result = mcp.StructuredErrorResponse(mcp.ErrInvalidParam, "schema validation failed", "",
				mcp.WithCorrelationID(correlationID), mcp.WithHint(err.Error()))
			return result
		}
	}

	if d.limiter != nil {
		decision := d.limiter.Allow(identity.ClientID, toolName)
		if !decision.Allowed {
			failureReason = "rate limit exceeded"
			result = mcp.StructuredErrorResponse(mcp.ErrRateLimited, "rate limit exceeded", "",
				mcp.WithCorrelationID(correlationID),
				mcp.WithRetryAfterMs(int(decision.RetryAfter.Milliseconds())))
			return result
		}
	}

	if d.scanner != nil {
		if findings := d.scanner.Scan(identity.ClientID, string(rawArgs)); len(findings) > 0 {
			for _, f := range findings {
				if f.Severity == "high" {
					failureReason = "security rule match: " + f.Pattern
					result = mcp.StructuredErrorResponse(mcp.ErrSecurityBlocked, "request matched a security rule", "",
						mcp.WithCorrelationID(correlationID), mcp.WithHint(f.Pattern))
					return result
				}
			}
		}
	}

	handlerResult, err := tool.Handler(ctx, rawArgs, identity)
	if err != nil {
		failureReason = err.Error()
		result = mcp.StructuredErrorResponse(mcp.ErrInternal, "internal error", "", mcp.WithCorrelationID(correlationID))
		return result
	}
	result = handlerResult
	return result
}

func (d *Dispatcher) errorEnvelope(code, message, correlationID string) json.RawMessage {
	return mcp.StructuredErrorResponse(code, message, "", mcp.WithCorrelationID(correlationID))
}

// hasAllCapabilities reports whether granted carries every capability
// required. A tool declaring no capabilities is open to any authenticated
// identity.
func hasAllCapabilities(granted, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(granted))
	for _, p := range granted {
		have[p] = true
	}
	for _, r := range required {
		if !have[r] {
			return false
		}
	}
	return true
}
