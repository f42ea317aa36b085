// Package metrics exposes a Prometheus-compatible registry tracking every
// numbered component's headline counters: events accepted/rejected,
// responses ingested, bridge restarts, rate-limit rejections, circuit
// breaker transitions, and the admin HTTP surface's own request metrics.
package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

// Registry bundles every metric family notifybridge exports.
type Registry struct {
	reg *prometheus.Registry

	EventsTotal        *prometheus.CounterVec
	ResponsesTotal     *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	RateLimitRejections *prometheus.CounterVec
	BridgeRestarts      prometheus.Counter
	BridgeUp            prometheus.Gauge
	CircuitBreakerState *prometheus.GaugeVec
	AlertsSent          *prometheus.CounterVec
	SecurityBlocks      *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var once sync.Once
var instance *Registry

// Init constructs and registers the process-wide metrics registry. Safe to
// call multiple times; only the first call takes effect.
func Init() *Registry {
	once.Do(func() {
		instance = build()
	})
	return instance
}

func build() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_events_total",
		Help: "Events accepted into the event pipeline, by type and outcome.",
	}, []string{"event_type", "outcome"})

	r.ResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_responses_total",
		Help: "Responses ingested from the response drop-zone, by outcome.",
	}, []string{"outcome"})

	r.ToolCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifybridge_tool_call_duration_seconds",
		Help:    "Duration of dispatched tool calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool", "outcome"})

	r.RateLimitRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_rate_limit_rejections_total",
		Help: "Calls rejected by the rate limiter, by exhausted budget.",
	}, []string{"budget"})

	r.BridgeRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifybridge_bridge_restarts_total",
		Help: "Number of times the delivery bridge process has been restarted.",
	})

	r.BridgeUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notifybridge_bridge_up",
		Help: "1 if the delivery bridge's health endpoint is currently healthy, else 0.",
	})

	r.CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "notifybridge_circuit_breaker_state",
		Help: "Circuit breaker state per dependency: 0=closed, 1=half-open, 2=open.",
	}, []string{"dependency"})

	r.AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_alerts_sent_total",
		Help: "Alerts dispatched, by channel and outcome.",
	}, []string{"channel", "outcome"})

	r.SecurityBlocks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_security_blocks_total",
		Help: "Calls blocked by the security monitor, by reason.",
	}, []string{"reason"})

	r.httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifybridge_http_requests_total",
		Help: "Admin HTTP surface requests.",
	}, []string{"method", "path", "status"})

	r.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notifybridge_http_request_duration_seconds",
		Help:    "Admin HTTP surface request duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	r.reg.MustRegister(
		r.EventsTotal, r.ResponsesTotal, r.ToolCallDuration, r.RateLimitRejections,
		r.BridgeRestarts, r.BridgeUp, r.CircuitBreakerState, r.AlertsSent, r.SecurityBlocks,
		r.httpRequestsTotal, r.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler returns the promhttp handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// breakerStateValue maps gobreaker.State to the gauge convention documented
// on CircuitBreakerState.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// RecordBreakerState updates the circuit breaker gauge for a dependency.
func (r *Registry) RecordBreakerState(dependency string, state gobreaker.State) {
	r.CircuitBreakerState.WithLabelValues(dependency).Set(breakerStateValue(state))
}

// HTTPMiddleware instruments every request on the admin HTTP surface.
func (r *Registry) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		lw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		timer := prometheus.NewTimer(r.httpRequestDuration.WithLabelValues(req.Method, req.URL.Path))
		next.ServeHTTP(lw, req)
		timer.ObserveDuration()
		r.httpRequestsTotal.WithLabelValues(req.Method, req.URL.Path, http.StatusText(lw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// ThresholdConfig is an operator-configured watch on a metric series
// (§4.10): a violation is only reported once the condition has held
// continuously for Duration.
type ThresholdConfig struct {
	Metric   string
	Warning  float64
	Critical float64
	Duration time.Duration
}

// ViolationLevel classifies how severely a watched threshold was breached.
type ViolationLevel string

const (
	LevelWarning  ViolationLevel = "warning"
	LevelCritical ViolationLevel = "critical"
)

// Violation is emitted once a threshold condition has held continuously for
// its configured Duration.
type Violation struct {
	Metric string
	Labels map[string]string
	Level  ViolationLevel
	Value  float64
	Since  time.Time
}

type seriesKey string

type firstExceeded struct {
	warningAt  time.Time
	criticalAt time.Time
}

// ThresholdWatcher evaluates configured thresholds on every metric update,
// tracking the first time each (metric, label_set) series crossed a bound
// so a violation only fires once the breach has persisted for Duration
// (§4.10).
type ThresholdWatcher struct {
	mu      sync.Mutex
	configs map[string]ThresholdConfig
	state   map[seriesKey]*firstExceeded
}

// NewThresholdWatcher constructs a watcher with the given threshold configs.
func NewThresholdWatcher(configs []ThresholdConfig) *ThresholdWatcher {
	w := &ThresholdWatcher{
		configs: make(map[string]ThresholdConfig, len(configs)),
		state:   make(map[seriesKey]*firstExceeded),
	}
	for _, c := range configs {
		w.configs[c.Metric] = c
	}
	return w
}

// Observe records a new sample for metric with the given label set and
// returns any violation that has now persisted for its configured duration.
// Returns the zero Violation and false if no threshold is configured for
// metric, or the breach hasn't yet persisted long enough.
func (w *ThresholdWatcher) Observe(metric string, labels map[string]string, value float64) (Violation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, ok := w.configs[metric]
	if !ok {
		return Violation{}, false
	}

	key := seriesKeyFor(metric, labels)
	fe, ok := w.state[key]
	if !ok {
		fe = &firstExceeded{}
		w.state[key] = fe
	}

	now := time.Now()
	exceedsCritical := value >= cfg.Critical
	exceedsWarning := value >= cfg.Warning

	if !exceedsWarning {
		fe.warningAt = time.Time{}
		fe.criticalAt = time.Time{}
		return Violation{}, false
	}
	if fe.warningAt.IsZero() {
		fe.warningAt = now
	}
	if exceedsCritical {
		if fe.criticalAt.IsZero() {
			fe.criticalAt = now
		}
	} else {
		fe.criticalAt = time.Time{}
	}

	if exceedsCritical && now.Sub(fe.criticalAt) >= cfg.Duration {
		return Violation{Metric: metric, Labels: labels, Level: LevelCritical, Value: value, Since: fe.criticalAt}, true
	}
	if now.Sub(fe.warningAt) >= cfg.Duration {
		return Violation{Metric: metric, Labels: labels, Level: LevelWarning, Value: value, Since: fe.warningAt}, true
	}
	return Violation{}, false
}

func seriesKeyFor(metric string, labels map[string]string) seriesKey {
	if len(labels) == 0 {
		return seriesKey(metric)
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(metric)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return seriesKey(b.String())
}
