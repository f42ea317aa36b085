// Package retry provides the shared retry-with-backoff executor and
// per-dependency circuit breakers used for every external call the bridge
// core makes (health probes, bridge RPC, alert delivery).
package retry

import (
	"context"
	"errors"
	"time"

	retrygo "github.com/avast/retry-go/v4"
	"github.com/sony/gobreaker"
)

// Executor wraps a named external dependency with exponential backoff
// retries gated by a circuit breaker: once the breaker trips open, calls
// fail fast without consuming a retry budget until the breaker allows a
// half-open probe.
type Executor struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	attempts uint
	baseDelay time.Duration
	maxDelay  time.Duration
}

// Config tunes an Executor's retry and circuit-breaker behavior.
type Config struct {
	// Attempts is the maximum number of tries per Do call, including the first.
	Attempts uint
	// BaseDelay is the initial backoff delay; subsequent delays double up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// ConsecutiveFailureThreshold trips the breaker open.
	ConsecutiveFailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before allowing a probe.
	OpenTimeout time.Duration
	// OnStateChange is invoked whenever the breaker transitions states,
	// primarily so callers can feed C9 metrics.
	OnStateChange func(name string, from, to gobreaker.State)
}

// New constructs an Executor named for logging/metrics purposes.
func New(name string, cfg Config) *Executor {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.ConsecutiveFailureThreshold == 0 {
		cfg.ConsecutiveFailureThreshold = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailureThreshold
		},
	}
	if cfg.OnStateChange != nil {
		settings.OnStateChange = cfg.OnStateChange
	}

	return &Executor{
		name:      name,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		attempts:  cfg.Attempts,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
	}
}

// ErrCircuitOpen is returned (wrapped) when the breaker short-circuits a call.
var ErrCircuitOpen = gobreaker.ErrOpenState

// Do runs fn under retry-with-backoff, itself gated by the circuit breaker.
// A call that the breaker refuses to make (open state) returns ErrCircuitOpen
// without invoking fn.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := e.breaker.Execute(func() (any, error) {
		return nil, retrygo.Do(
			func() error { return fn(ctx) },
			retrygo.Context(ctx),
			retrygo.Attempts(e.attempts),
			retrygo.Delay(e.baseDelay),
			retrygo.MaxDelay(e.maxDelay),
			retrygo.DelayType(retrygo.BackOffDelay),
			retrygo.LastErrorOnly(true),
		)
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	return err
}

// State reports the breaker's current state for health/status reporting.
func (e *Executor) State() gobreaker.State {
	return e.breaker.State()
}

// Name returns the dependency name this executor was constructed for.
func (e *Executor) Name() string {
	return e.name
}
