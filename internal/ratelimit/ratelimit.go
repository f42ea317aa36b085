// Package ratelimit enforces the three sliding-window budgets from the
// dispatcher's rate limiting step (global, per-client, per-tool) plus a
// short token-bucket burst window that absorbs legitimate bursts the
// per-minute windows would otherwise reject outright.
package ratelimit

import (
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/time/rate"
)

// Config tunes the limiter's budgets.
type Config struct {
	GlobalPerMinute int
	ClientPerMinute int
	ToolPerMinute   int
	BurstSize       int
}

// Limiter enforces global, per-client, and per-tool sliding-window limits,
// plus a short token-bucket burst allowance checked first (cheapest check,
// and the one most likely to catch a runaway retry loop).
type Limiter struct {
	burst  *rate.Limiter
	global *catrate.Limiter
	client *catrate.Limiter
	tool   *catrate.Limiter
}

// New constructs a Limiter from cfg, applying sane floors so a
// misconfigured zero value doesn't silently disable limiting.
func New(cfg Config) *Limiter {
	if cfg.GlobalPerMinute <= 0 {
		cfg.GlobalPerMinute = 600
	}
	if cfg.ClientPerMinute <= 0 {
		cfg.ClientPerMinute = 120
	}
	if cfg.ToolPerMinute <= 0 {
		cfg.ToolPerMinute = 60
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 10
	}

	return &Limiter{
		burst:  rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.BurstSize)), cfg.BurstSize),
		global: catrate.NewLimiter(map[time.Duration]int{time.Minute: cfg.GlobalPerMinute}),
		client: catrate.NewLimiter(map[time.Duration]int{time.Minute: cfg.ClientPerMinute}),
		tool:   catrate.NewLimiter(map[time.Duration]int{time.Minute: cfg.ToolPerMinute}),
	}
}

// Decision reports the outcome of an Allow check, including which budget
// was exhausted so the caller can build an informative rate_limited error
// (§4.6: {allowed, remaining, reset_at, window_s}).
type Decision struct {
	Allowed    bool
	Exhausted  string // "burst", "global", "client", or "tool"
	RetryAfter time.Duration
	// ResetAt is when the exhausted window next admits a call; zero value
	// when Allowed is true.
	ResetAt time.Time
	// WindowS is the size, in seconds, of the window that was exhausted.
	WindowS float64
}

// Allow checks the burst, global, per-client, and per-tool budgets in that
// order (cheapest/most-specific-failure-first) and reports the first one
// that rejects the call.
//
// catrate tracks sliding-window occupancy per category but does not expose
// a remaining-count accessor, so Decision omits "remaining" rather than
// fabricate a number the underlying limiter can't actually report.
func (l *Limiter) Allow(clientID, toolName string) Decision {
	if !l.burst.Allow() {
		return Decision{Allowed: false, Exhausted: "burst", RetryAfter: time.Second, ResetAt: time.Now().Add(time.Second), WindowS: 10}
	}
	if next, ok := l.global.Allow("global"); !ok {
		return Decision{Allowed: false, Exhausted: "global", RetryAfter: time.Until(next), ResetAt: next, WindowS: 60}
	}
	if next, ok := l.client.Allow(clientID); !ok {
		return Decision{Allowed: false, Exhausted: "client", RetryAfter: time.Until(next), ResetAt: next, WindowS: 60}
	}
	if next, ok := l.tool.Allow(toolName); !ok {
		return Decision{Allowed: false, Exhausted: "tool", RetryAfter: time.Until(next), ResetAt: next, WindowS: 60}
	}
	return Decision{Allowed: true}
}
