// lifecycle.go — the bridge lifecycle manager (C14): probes, starts,
// restarts, and stops the external delivery bridge process, and gates
// concurrent callers behind a single in-flight readiness check.
package bridge

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/singleflight"
)

// State is the bridge lifecycle state machine's current node.
type State string

const (
	StateUnknown   State = "unknown"
	StateProbing   State = "probing"
	StateRunning   State = "running"
	StateStarting  State = "starting"
	StateFailed    State = "failed"
	StateRetrying  State = "retrying"
	StateStopped   State = "stopped"
)

// cachedRunningTTL bounds how long a positive is_running result is trusted
// before re-probing (§4.14).
const cachedRunningTTL = 30 * time.Second

// waitForReadyBackoff is the poll schedule used while waiting for a freshly
// started bridge process to answer its health endpoint.
var waitForReadyBackoff = []time.Duration{
	100 * time.Millisecond, 200 * time.Millisecond, 500 * time.Millisecond,
	1 * time.Second, 2 * time.Second, 4 * time.Second,
}

// startRetryDelays is the delay ladder between the three start attempts
// ensure_ready makes when the bridge is not already running (§4.14).
var startRetryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Options configures a Manager.
type Options struct {
	Executable string
	Args       []string
	EnvFiles   []string
	HealthPort int
	Client     *http.Client
}

// Manager owns the external bridge process's lifecycle.
type Manager struct {
	opts Options

	mu           sync.Mutex
	state        State
	lastProbe    time.Time
	lastRunning  bool
	cmd          *exec.Cmd

	sf singleflight.Group
}

// NewManager constructs a Manager. opts.Client defaults to a 3s-timeout
// client if nil.
func NewManager(opts Options) *Manager {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 3 * time.Second}
	}
	if opts.HealthPort == 0 {
		opts.HealthPort = 8080
	}
	return &Manager{opts: opts, state: StateUnknown}
}

// State returns the manager's last-known lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pid returns the bridge process's PID and whether one is currently tracked.
func (m *Manager) Pid() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil || m.cmd.Process == nil {
		return 0, false
	}
	return m.cmd.Process.Pid, true
}

// IsRunningCached reports whether the bridge was found running within the
// last cachedRunningTTL, re-probing only when the cache has expired.
func (m *Manager) IsRunningCached(ctx context.Context) bool {
	m.mu.Lock()
	fresh := time.Since(m.lastProbe) < cachedRunningTTL
	cached := m.lastRunning
	m.mu.Unlock()
	if fresh {
		return cached
	}
	return m.Probe(ctx)
}

// Probe performs a live check: an HTTP health request first, falling back
// to scanning the OS process list for the configured executable name if
// the HTTP probe can't be attempted (e.g. no port configured yet).
func (m *Manager) Probe(ctx context.Context) bool {
	running := IsServerRunning(m.opts.Client, m.opts.HealthPort)
	if !running {
		running = m.probeProcessList()
	}
	m.mu.Lock()
	m.lastProbe = time.Now()
	m.lastRunning = running
	if running {
		m.state = StateRunning
	}
	m.mu.Unlock()
	return running
}

// probeProcessList is the OS-process-listing fallback probe (§4.14): it
// looks for a running process whose command line references the
// configured bridge executable, for platforms/situations where the HTTP
// health endpoint isn't reachable (e.g. bound to a different interface).
func (m *Manager) probeProcessList() bool {
	if m.opts.Executable == "" {
		return false
	}
	name := filepath.Base(m.opts.Executable)

	var psArgs []string
	switch runtime.GOOS {
	case "windows":
		return false // no portable equivalent without an extra dependency
	default:
		psArgs = []string{"-eo", "command"}
	}
	out, err := exec.Command("ps", psArgs...).Output()
	if err != nil {
		return false
	}
	return containsProcessName(string(out), name)
}

func containsProcessName(psOutput, name string) bool {
	if name == "" {
		return false
	}
	return strings.Contains(psOutput, name)
}

// EnsureReady guarantees the bridge is reachable by the time it returns
// nil, starting it if necessary. Concurrent callers collapse onto a
// single readiness check via singleflight, so N simultaneous tool calls
// spawn the bridge process at most once.
func (m *Manager) EnsureReady(ctx context.Context) error {
	_, err, _ := m.sf.Do("ensure-ready", func() (any, error) {
		return nil, m.ensureReadyOnce(ctx)
	})
	return err
}

func (m *Manager) ensureReadyOnce(ctx context.Context) error {
	if m.IsRunningCached(ctx) {
		return nil
	}

	m.setState(StateStarting)

	op := func() (struct{}, error) {
		if err := m.start(); err != nil {
			return struct{}{}, err
		}
		if !m.waitForReady(ctx) {
			return struct{}{}, fmt.Errorf("bridge did not become ready in time")
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&fixedScheduleBackOff{delays: startRetryDelays}),
		backoff.WithMaxTries(uint(len(startRetryDelays)+1)),
	)
	if err != nil {
		m.setState(StateFailed)
		return fmt.Errorf("ensure bridge ready: %w", err)
	}
	m.setState(StateRunning)
	return nil
}

// start spawns the bridge process, merging the configured dotenv files
// (later files win, real process env wins over all of them) into its
// environment (§4.14, §4.3).
func (m *Manager) start() error {
	m.mu.Lock()
	if m.cmd != nil && m.cmd.Process != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.opts.Executable == "" {
		return fmt.Errorf("no bridge executable configured")
	}

	env := os.Environ()
	merged := map[string]string{}
	for _, f := range m.opts.EnvFiles {
		vars, err := godotenv.Read(f)
		if err != nil {
			continue
		}
		for k, v := range vars {
			merged[k] = v
		}
	}
	finalEnv := append([]string(nil), env...)
	for k, v := range merged {
		if _, present := os.LookupEnv(k); !present {
			finalEnv = append(finalEnv, k+"="+v)
		}
	}

	cmd := exec.Command(m.opts.Executable, m.opts.Args...)
	cmd.Env = finalEnv
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start bridge process: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.state = StateStarting
	m.mu.Unlock()

	go func() { _ = cmd.Wait() }()
	return nil
}

// waitForReady polls the bridge's health endpoint on the configured
// backoff schedule, capped at the schedule's total span (§4.14: ~10s cap).
func (m *Manager) waitForReady(ctx context.Context) bool {
	for _, delay := range waitForReadyBackoff {
		if IsServerRunning(m.opts.Client, m.opts.HealthPort) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
	return IsServerRunning(m.opts.Client, m.opts.HealthPort)
}

// Stop terminates the bridge process: politely (SIGTERM) first, then
// forcefully (SIGKILL) if it hasn't exited within 1 second.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cmd := m.cmd
	m.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		_ = cmd.Process.Kill()
	}

	m.mu.Lock()
	m.cmd = nil
	m.state = StateStopped
	m.mu.Unlock()
	return nil
}

// Restart stops then starts the bridge, re-running the full readiness gate.
func (m *Manager) Restart(ctx context.Context) error {
	if err := m.Stop(); err != nil {
		return err
	}
	m.setState(StateUnknown)
	return m.EnsureReady(ctx)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// fixedScheduleBackOff implements backoff.BackOff by walking a fixed list
// of delays, matching the spec's explicit [2s, 4s, 8s] start-retry ladder
// rather than a computed exponential curve.
type fixedScheduleBackOff struct {
	delays []time.Duration
	idx    int
}

func (f *fixedScheduleBackOff) NextBackOff() time.Duration {
	if f.idx >= len(f.delays) {
		return backoff.Stop
	}
	d := f.delays[f.idx]
	f.idx++
	return d
}
