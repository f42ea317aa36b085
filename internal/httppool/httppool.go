// Package httppool manages a small set of purpose-scoped *http.Client
// instances (§4.8) so each keeps its own keep-alive connection pool sized
// for its traffic pattern instead of every caller constructing a fresh
// client (and TCP connection) per call.
package httppool

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Purpose identifies a connection pool's traffic class (§4.8).
type Purpose string

const (
	// PurposeHealth is for frequent, short health probes.
	PurposeHealth Purpose = "health"
	// PurposeStatus is for bridge-status queries that tolerate a little
	// more latency than a bare health probe.
	PurposeStatus Purpose = "status"
	// PurposePolling is for long-poll-style response ingestion calls.
	PurposePolling Purpose = "polling"
	// PurposeDefault covers every other outbound call (alert delivery,
	// bridge RPC, ad-hoc requests).
	PurposeDefault Purpose = "default"
)

var defaults = map[Purpose]struct {
	timeout             time.Duration
	maxIdleConnsPerHost int
}{
	PurposeHealth:  {timeout: 2 * time.Second, maxIdleConnsPerHost: 2},
	PurposeStatus:  {timeout: 3 * time.Second, maxIdleConnsPerHost: 4},
	PurposePolling: {timeout: 10 * time.Second, maxIdleConnsPerHost: 4},
	PurposeDefault: {timeout: 30 * time.Second, maxIdleConnsPerHost: 8},
}

// ClassCounters tracks a purpose class's in-flight, completed, and errored
// request counts (§4.8).
type ClassCounters struct {
	Inflight  int64
	Completed int64
	Errors    int64
}

// Pool lazily constructs and caches one *http.Client per Purpose, each
// wrapped with a counting RoundTripper.
type Pool struct {
	mu       sync.Mutex
	clients  map[Purpose]*http.Client
	counters map[Purpose]*ClassCounters
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{clients: make(map[Purpose]*http.Client), counters: make(map[Purpose]*ClassCounters)}
}

// Client returns the shared client for purpose, constructing it on first use.
func (p *Pool) Client(purpose Purpose) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[purpose]; ok {
		return c
	}

	cfg, ok := defaults[purpose]
	if !ok {
		cfg = defaults[PurposeDefault]
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   cfg.maxIdleConnsPerHost,
		MaxIdleConns:          cfg.maxIdleConnsPerHost * 4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	counters := &ClassCounters{}
	p.counters[purpose] = counters

	client := &http.Client{
		Timeout:   cfg.timeout,
		Transport: &countingTransport{inner: transport, counters: counters},
	}
	p.clients[purpose] = client
	return client
}

// Counters returns the live counters for purpose, constructing an empty
// (zero) entry if no client has been built for it yet.
func (p *Pool) Counters(purpose Purpose) ClassCounters {
	p.mu.Lock()
	c, ok := p.counters[purpose]
	p.mu.Unlock()
	if !ok {
		return ClassCounters{}
	}
	return ClassCounters{
		Inflight:  atomic.LoadInt64(&c.Inflight),
		Completed: atomic.LoadInt64(&c.Completed),
		Errors:    atomic.LoadInt64(&c.Errors),
	}
}

// CloseIdleConnections releases idle connections across all pooled clients.
func (p *Pool) CloseIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
}

// countingTransport wraps an http.RoundTripper with the inflight/completed/
// errors bookkeeping each purpose class reports (§4.8).
type countingTransport struct {
	inner    http.RoundTripper
	counters *ClassCounters
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	atomic.AddInt64(&c.counters.Inflight, 1)
	defer atomic.AddInt64(&c.counters.Inflight, -1)

	resp, err := c.inner.RoundTrip(req)
	if err != nil {
		atomic.AddInt64(&c.counters.Errors, 1)
		return nil, err
	}
	atomic.AddInt64(&c.counters.Completed, 1)
	return resp, nil
}
