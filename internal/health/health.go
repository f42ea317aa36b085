// Package health runs periodic probes against a set of named HTTP
// endpoints (the delivery bridge's /health, its own dependencies, and any
// operator-configured webhook) and exposes the latest status, rolling
// trend, and aggregate system health for the get_bridge_status tool and
// the core's own /health endpoint (§4.9).
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// State is a single endpoint's derived health classification.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
	StateUnknown   State = "unknown"
)

// Trend classifies how an endpoint's recent response times are moving.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// Overall is the system-wide health classification (§4.9 closing paragraph).
type Overall string

const (
	OverallHealthy   Overall = "healthy"
	OverallDegraded  Overall = "degraded"
	OverallUnhealthy Overall = "unhealthy"
)

// Endpoint is a probe target registered with the Checker.
type Endpoint struct {
	Name              string
	URL               string
	Method            string
	ExpectedStatus    []int
	Timeout           time.Duration
	Retries           int
	Critical          bool
	FailureThreshold  int // consecutive failures -> unhealthy
	RecoveryThreshold int // consecutive successes -> healthy
}

func (e Endpoint) failureThreshold() int {
	if e.FailureThreshold > 0 {
		return e.FailureThreshold
	}
	return 3
}

func (e Endpoint) recoveryThreshold() int {
	if e.RecoveryThreshold > 0 {
		return e.RecoveryThreshold
	}
	return 1
}

// probeResult is one historical probe outcome, retained in the last-100 ring.
type probeResult struct {
	at       time.Time
	ok       bool
	duration time.Duration
	code     int
	err      string
}

const historySize = 100

// Status is the latest derived state of one probed endpoint, plus its
// rolling statistics (§4.9).
type Status struct {
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	State            State     `json:"state"`
	LastCheck        time.Time `json:"last_check"`
	LastError        string    `json:"last_error,omitempty"`
	ConsecutiveFails int       `json:"consecutive_failures"`
	ConsecutiveOK    int       `json:"consecutive_successes"`
	SuccessRate      float64   `json:"success_rate"`
	AvgResponseMs    float64   `json:"avg_response_ms"`
	Trend            Trend     `json:"trend"`
	Critical         bool      `json:"critical"`
}

type endpointState struct {
	ep               Endpoint
	history          []probeResult // ring buffer, capped at historySize
	consecutiveFails int
	consecutiveOK    int
	state            State
	lastCheck        time.Time
	lastError        string
}

// Checker periodically probes a set of endpoints and caches their status.
type Checker struct {
	client *http.Client

	mu    sync.RWMutex
	order []string
	state map[string]*endpointState

	cron *cron.Cron
}

// NewChecker constructs a Checker using client for probe requests.
func NewChecker(client *http.Client) *Checker {
	return &Checker{
		client: client,
		state:  make(map[string]*endpointState),
		cron:   cron.New(),
	}
}

// Register adds an endpoint to the probe set. Safe to call before or after Start.
func (c *Checker) Register(ep Endpoint) {
	if ep.Method == "" {
		ep.Method = http.MethodGet
	}
	if len(ep.ExpectedStatus) == 0 {
		ep.ExpectedStatus = []int{http.StatusOK}
	}
	if ep.Timeout == 0 {
		ep.Timeout = 5 * time.Second
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.state[ep.Name]; !exists {
		c.order = append(c.order, ep.Name)
	}
	c.state[ep.Name] = &endpointState{ep: ep, state: StateUnknown}
}

// Start begins probing every registered endpoint on the given interval
// (expressed as a cron spec, e.g. "@every 30s") and runs one probe pass
// immediately so status is available before the first tick.
func (c *Checker) Start(spec string) error {
	c.probeAll()
	_, err := c.cron.AddFunc(spec, c.probeAll)
	if err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the probe schedule.
func (c *Checker) Stop() {
	c.cron.Stop()
}

func (c *Checker) probeAll() {
	c.mu.RLock()
	names := append([]string(nil), c.order...)
	c.mu.RUnlock()

	for _, name := range names {
		c.mu.RLock()
		st := c.state[name]
		c.mu.RUnlock()
		if st != nil {
			c.probeOne(st)
		}
	}
}

func (c *Checker) probeOne(st *endpointState) {
	ep := st.ep

	var result probeResult
	for attempt := 0; attempt <= ep.Retries; attempt++ {
		result = c.attempt(ep)
		if result.ok {
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st.history = append(st.history, result)
	if len(st.history) > historySize {
		st.history = st.history[len(st.history)-historySize:]
	}
	st.lastCheck = result.at
	st.lastError = result.err

	if result.ok {
		st.consecutiveOK++
		st.consecutiveFails = 0
	} else {
		st.consecutiveFails++
		st.consecutiveOK = 0
	}

	switch {
	case st.consecutiveFails >= ep.failureThreshold():
		st.state = StateUnhealthy
	case st.consecutiveFails > 0:
		st.state = StateDegraded
	case st.consecutiveOK >= ep.recoveryThreshold():
		st.state = StateHealthy
	default:
		st.state = StateUnknown
	}
}

func (c *Checker) attempt(ep Endpoint) probeResult {
	ctx, cancel := context.WithTimeout(context.Background(), ep.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, ep.Method, ep.URL, nil)
	if err != nil {
		return probeResult{at: start, err: err.Error()}
	}

	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return probeResult{at: start, duration: duration, err: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	ok := false
	for _, code := range ep.ExpectedStatus {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	result := probeResult{at: start, duration: duration, code: resp.StatusCode, ok: ok}
	if !ok {
		result.err = resp.Status
	}
	return result
}

// Snapshot returns the current status, with rolling stats and trend, of
// every registered endpoint.
func (c *Checker) Snapshot() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Status, 0, len(c.order))
	for _, name := range c.order {
		st := c.state[name]
		out = append(out, Status{
			Name:             st.ep.Name,
			URL:              st.ep.URL,
			State:            st.state,
			LastCheck:        st.lastCheck,
			LastError:        st.lastError,
			ConsecutiveFails: st.consecutiveFails,
			ConsecutiveOK:    st.consecutiveOK,
			SuccessRate:      successRate(st.history),
			AvgResponseMs:    avgResponseMs(st.history),
			Trend:            trendOf(st.history),
			Critical:         st.ep.Critical,
		})
	}
	return out
}

func successRate(history []probeResult) float64 {
	if len(history) == 0 {
		return 0
	}
	ok := 0
	for _, r := range history {
		if r.ok {
			ok++
		}
	}
	return float64(ok) / float64(len(history))
}

func avgResponseMs(history []probeResult) float64 {
	if len(history) == 0 {
		return 0
	}
	var total time.Duration
	for _, r := range history {
		total += r.duration
	}
	return float64(total.Milliseconds()) / float64(len(history))
}

// trendOf classifies recent behavior by comparing the average response
// time of the first half of the retained history against the second half
// (§4.9: "classify trend by comparing halves").
func trendOf(history []probeResult) Trend {
	if len(history) < 4 {
		return TrendStable
	}
	mid := len(history) / 2
	firstAvg := avgResponseMs(history[:mid])
	secondAvg := avgResponseMs(history[mid:])
	if firstAvg == 0 {
		return TrendStable
	}
	delta := (secondAvg - firstAvg) / firstAvg
	switch {
	case delta <= -0.15:
		return TrendImproving
	case delta >= 0.15:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// Overall derives the system-wide classification (§4.9): unhealthy if any
// critical endpoint is unhealthy; otherwise degraded if at least half of
// the remaining endpoints are unhealthy; otherwise the worst non-critical
// state observed.
func (c *Checker) Overall() Overall {
	statuses := c.Snapshot()
	if len(statuses) == 0 {
		return OverallHealthy
	}

	var nonCritical []Status
	for _, s := range statuses {
		if s.Critical && s.State == StateUnhealthy {
			return OverallUnhealthy
		}
		if !s.Critical {
			nonCritical = append(nonCritical, s)
		}
	}

	if len(nonCritical) == 0 {
		return OverallHealthy
	}

	unhealthyCount := 0
	worst := OverallHealthy
	for _, s := range nonCritical {
		if s.State == StateUnhealthy {
			unhealthyCount++
			worst = OverallDegraded
		}
		if s.State == StateDegraded && worst == OverallHealthy {
			worst = OverallDegraded
		}
	}
	if float64(unhealthyCount)/float64(len(nonCritical)) >= 0.5 {
		return OverallDegraded
	}
	return worst
}

// Healthy reports whether the overall system classification is healthy.
func (c *Checker) Healthy() bool {
	return c.Overall() == OverallHealthy
}
