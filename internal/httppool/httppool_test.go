package httppool

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIsCachedPerPurpose(t *testing.T) {
	p := NewPool()
	a := p.Client(PurposeHealth)
	b := p.Client(PurposeHealth)
	if a != b {
		t.Fatal("expected the same *http.Client instance for repeated calls with the same purpose")
	}
}

func TestUnknownPurposeFallsBackToDefault(t *testing.T) {
	p := NewPool()
	c := p.Client(Purpose("nonsense"))
	if c.Timeout != defaults[PurposeDefault].timeout {
		t.Fatalf("expected default timeout fallback, got %v", c.Timeout)
	}
}

func TestCountersTrackCompletedAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPool()
	client := p.Client(PurposeStatus)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()

	counters := p.Counters(PurposeStatus)
	if counters.Completed != 1 {
		t.Fatalf("expected 1 completed request, got %d", counters.Completed)
	}
	if counters.Inflight != 0 {
		t.Fatalf("expected inflight back to 0, got %d", counters.Inflight)
	}
}

func TestCountersTrackErrorsOnFailedDial(t *testing.T) {
	p := NewPool()
	client := p.Client(PurposeHealth)
	_, err := client.Get("http://127.0.0.1:1/unreachable")
	if err == nil {
		t.Fatal("expected dial failure against a closed port")
	}

	counters := p.Counters(PurposeHealth)
	if counters.Errors != 1 {
		t.Fatalf("expected 1 error recorded, got %d", counters.Errors)
	}
}
