package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckerProbesAndSnapshots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(&http.Client{Timeout: time.Second})
	c.Register(Endpoint{Name: "bridge", URL: srv.URL})

	if err := c.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if !c.Healthy() {
		t.Fatalf("expected healthy after initial probe, snapshot=%+v", c.Snapshot())
	}
	snap := c.Snapshot()
	if snap[0].State != StateHealthy {
		t.Fatalf("expected StateHealthy, got %s", snap[0].State)
	}
}

func TestCheckerUnreachableDegradesThenUnhealthy(t *testing.T) {
	c := NewChecker(&http.Client{Timeout: 50 * time.Millisecond})
	c.Register(Endpoint{Name: "bridge", URL: "http://127.0.0.1:1", FailureThreshold: 2})

	if err := c.Start("@every 1h"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if c.Healthy() {
		t.Fatal("expected not healthy after first failed probe")
	}
	if got := c.Snapshot()[0].State; got != StateDegraded {
		t.Fatalf("expected degraded after 1 of 2 failures, got %s", got)
	}

	c.probeAll()
	if got := c.Snapshot()[0].State; got != StateUnhealthy {
		t.Fatalf("expected unhealthy after 2 consecutive failures, got %s", got)
	}
}

func TestOverallUnhealthyWhenCriticalEndpointDown(t *testing.T) {
	c := NewChecker(&http.Client{Timeout: 50 * time.Millisecond})
	c.Register(Endpoint{Name: "critical-dep", URL: "http://127.0.0.1:1", Critical: true, FailureThreshold: 1})
	c.probeAll()

	if got := c.Overall(); got != OverallUnhealthy {
		t.Fatalf("expected OverallUnhealthy, got %s", got)
	}
}

func TestOverallDegradedWhenMajorityNonCriticalUnhealthy(t *testing.T) {
	c := NewChecker(&http.Client{Timeout: 50 * time.Millisecond})
	c.Register(Endpoint{Name: "a", URL: "http://127.0.0.1:1", FailureThreshold: 1})
	c.Register(Endpoint{Name: "b", URL: "http://127.0.0.1:1", FailureThreshold: 1})
	c.probeAll()

	if got := c.Overall(); got != OverallDegraded {
		t.Fatalf("expected OverallDegraded when >=50%% of non-critical endpoints unhealthy, got %s", got)
	}
}

func TestTrendStableWithTooLittleHistory(t *testing.T) {
	c := NewChecker(&http.Client{Timeout: time.Second})
	c.Register(Endpoint{Name: "x", URL: "http://127.0.0.1:1"})
	c.probeAll()

	if got := c.Snapshot()[0].Trend; got != TrendStable {
		t.Fatalf("expected stable trend with <4 samples, got %s", got)
	}
}
