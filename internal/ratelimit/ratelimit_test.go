package ratelimit

import "testing"

func TestLimiterAllowsWithinBudget(t *testing.T) {
	l := New(Config{GlobalPerMinute: 100, ClientPerMinute: 100, ToolPerMinute: 100, BurstSize: 50})
	d := l.Allow("client-a", "send_event")
	if !d.Allowed {
		t.Fatalf("expected allowed, got exhausted=%s", d.Exhausted)
	}
}

func TestLimiterRejectsPerToolBudget(t *testing.T) {
	l := New(Config{GlobalPerMinute: 1000, ClientPerMinute: 1000, ToolPerMinute: 1, BurstSize: 1000})

	first := l.Allow("client-a", "send_event")
	if !first.Allowed {
		t.Fatalf("expected first call allowed")
	}
	second := l.Allow("client-a", "send_event")
	if second.Allowed {
		t.Fatalf("expected second call to exhaust the per-tool budget")
	}
	if second.Exhausted != "tool" {
		t.Fatalf("expected exhausted=tool, got %s", second.Exhausted)
	}
}

func TestLimiterDefaultsApplyForZeroConfig(t *testing.T) {
	l := New(Config{})
	d := l.Allow("client-a", "send_event")
	if !d.Allowed {
		t.Fatalf("expected default config to allow the first call")
	}
}
