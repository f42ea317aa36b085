// timeout.go — per-tool-call timeout policy.
package bridge

import (
	"encoding/json"
	"time"
)

// Timeout tiers for different tool categories.
const (
	FastTimeout  = 10 * time.Second
	SlowTimeout  = 35 * time.Second
	BlockingPoll = 65 * time.Second
)

// ToolCallTimeout returns the per-call timeout for a dispatched tool.
// Most tools are local filesystem/state operations and get FastTimeout.
// Bridge lifecycle tools that spawn or wait on an external process get
// SlowTimeout. get_responses supports an optional long-poll wait and gets
// BlockingPoll so the caller's own deadline — not ours — governs how long
// it actually blocks.
func ToolCallTimeout(toolName string, arguments json.RawMessage) time.Duration {
	switch toolName {
	case "start_bridge", "restart_bridge", "ensure_bridge_running":
		return SlowTimeout
	case "get_responses":
		var args struct {
			WaitMs int `json:"wait_ms"`
		}
		if json.Unmarshal(arguments, &args) == nil && args.WaitMs > 0 {
			return BlockingPoll
		}
		return FastTimeout
	default:
		return FastTimeout
	}
}
