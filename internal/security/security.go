// Package security scans tool-call arguments and response content for
// injection attempts and other suspicious patterns, maintains a bounded
// recent-offenders store, an IP blocklist, a per-client behavioral baseline,
// and a confidence-scored threat-indicator ledger, and mitigates repeat
// offenders through a configured escalation ladder (§4.11).
package security

import (
	"regexp"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Finding describes a single pattern match.
type Finding struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"` // "low", "medium", "high"
	Excerpt  string `json:"excerpt"`
}

type checkEntry struct {
	name     string
	severity string
	regex    *regexp.Regexp
}

// builtinChecks are always active; operators may add more via Configure but
// can never remove these.
var builtinChecks = []checkEntry{
	{name: "sql-injection", severity: "high", regex: regexp.MustCompile(`(?i)(\bunion\s+select\b|\bdrop\s+table\b|;\s*--|\bor\s+1\s*=\s*1\b)`)},
	{name: "script-tag", severity: "high", regex: regexp.MustCompile(`(?i)<script[\s>]`)},
	{name: "path-traversal", severity: "medium", regex: regexp.MustCompile(`\.\./`)},
	{name: "shell-metachar", severity: "medium", regex: regexp.MustCompile("[;&|`$]")},
}

// IndicatorType classifies a threat indicator (§4.11).
type IndicatorType string

const (
	IndicatorIP       IndicatorType = "ip"
	IndicatorHash     IndicatorType = "hash"
	IndicatorDomain   IndicatorType = "domain"
	IndicatorPattern  IndicatorType = "pattern"
	IndicatorBehavior IndicatorType = "behavior"
)

// Indicator is a confidence-scored threat observation that accumulates
// across events: each recurrence raises Confidence by 5, capped at 100.
type Indicator struct {
	Type       IndicatorType `json:"type"`
	Value      string        `json:"value"`
	Confidence int           `json:"confidence"`
	Source     string        `json:"source"`
	FirstSeen  time.Time     `json:"first_seen"`
	LastSeen   time.Time     `json:"last_seen"`
	Count      int           `json:"count"`
}

// EscalationAction is a mitigation action an escalation rule may take.
type EscalationAction string

const (
	ActionLog        EscalationAction = "log"
	ActionAlert      EscalationAction = "alert"
	ActionBlock      EscalationAction = "block"
	ActionQuarantine EscalationAction = "quarantine"
	ActionEscalate   EscalationAction = "escalate"
)

// EscalationRule maps an offense-count condition to a mitigation action. A
// rule fires when the client's cumulative OffenseCount is >= MinOffenses.
// Rules are evaluated in order; the last matching rule wins, mirroring the
// teacher's dispatch-table pattern (highest-priority match last).
type EscalationRule struct {
	MinOffenses int
	Action      EscalationAction
	BlockFor    time.Duration // used only when Action == ActionBlock
}

// defaultLadder escalates a repeat offender from logging through alerting
// to a timed IP block once abuse is clearly established.
var defaultLadder = []EscalationRule{
	{MinOffenses: 1, Action: ActionLog},
	{MinOffenses: 3, Action: ActionAlert},
	{MinOffenses: 5, Action: ActionBlock, BlockFor: 15 * time.Minute},
	{MinOffenses: 10, Action: ActionQuarantine, BlockFor: time.Hour},
}

// Verdict is the outcome of scanning and mitigating a single request
// (§4.11's "compute a verdict {threat, events[]}").
type Verdict struct {
	Threat   bool             `json:"threat"`
	Findings []Finding        `json:"findings"`
	Blocked  bool             `json:"blocked"`
	Action   EscalationAction `json:"action,omitempty"`
	Anomaly  bool             `json:"anomaly"`
}

type offenderRecord struct {
	count     int
	firstSeen time.Time
	lastSeen  time.Time
}

// hourlyHistogram is a per-client behavioral baseline: a request count per
// truncated hour, used to flag anomalous spikes (§4.11).
type hourlyHistogram struct {
	counts map[int64]int // hour epoch -> request count
}

// PatternConfig is an operator-supplied suspicious pattern added on top of
// the built-in checks.
type PatternConfig struct {
	Name     string
	Severity string
	Pattern  string
}

// Monitor detects suspicious input, tracks repeat offenders per client,
// maintains an IP blocklist, a behavioral baseline, and threat indicators.
type Monitor struct {
	mu     sync.RWMutex
	checks []checkEntry
	ladder []EscalationRule

	offenders  *lru.Cache[string, *offenderRecord]
	baselines  map[string]*hourlyHistogram
	blocklist  map[string]time.Time // ip -> unblock time
	indicators map[string]*Indicator
}

// NewMonitor constructs a Monitor with the built-in checks plus any
// operator-configured additions. offenderCacheSize bounds the recent-
// offenders LRU (a default of 1024 is used for <= 0). The default
// escalation ladder is used; call SetLadder to override it.
func NewMonitor(extra []PatternConfig, offenderCacheSize int) (*Monitor, error) {
	if offenderCacheSize <= 0 {
		offenderCacheSize = 1024
	}
	cache, err := lru.New[string, *offenderRecord](offenderCacheSize)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		checks:     append([]checkEntry(nil), builtinChecks...),
		ladder:     append([]EscalationRule(nil), defaultLadder...),
		offenders:  cache,
		baselines:  make(map[string]*hourlyHistogram),
		blocklist:  make(map[string]time.Time),
		indicators: make(map[string]*Indicator),
	}
	for _, e := range extra {
		re, err := regexp.Compile(e.Pattern)
		if err != nil {
			continue
		}
		m.checks = append(m.checks, checkEntry{name: e.Name, severity: e.Severity, regex: re})
	}
	return m, nil
}

// SetLadder replaces the escalation ladder used by Mitigate.
func (m *Monitor) SetLadder(rules []EscalationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ladder = append([]EscalationRule(nil), rules...)
}

// Scan runs every configured check against input and records a hit for
// clientID if anything matched, for repeat-offender escalation.
func (m *Monitor) Scan(clientID, input string) []Finding {
	m.mu.RLock()
	checks := m.checks
	m.mu.RUnlock()

	var findings []Finding
	for _, c := range checks {
		if loc := c.regex.FindStringIndex(input); loc != nil {
			excerpt := input[loc[0]:loc[1]]
			if len(excerpt) > 80 {
				excerpt = excerpt[:80]
			}
			findings = append(findings, Finding{Pattern: c.name, Severity: c.severity, Excerpt: excerpt})
		}
	}

	if len(findings) > 0 {
		m.recordOffense(clientID)
		for _, f := range findings {
			m.recordIndicator(IndicatorPattern, f.Pattern, clientID)
		}
	}
	return findings
}

func (m *Monitor) recordOffense(clientID string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.offenders.Get(clientID); ok {
		rec.count++
		rec.lastSeen = now
		return
	}
	m.offenders.Add(clientID, &offenderRecord{count: 1, firstSeen: now, lastSeen: now})
}

// OffenseCount returns how many times clientID has triggered a finding
// since it first appeared in the bounded offender cache.
func (m *Monitor) OffenseCount(clientID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.offenders.Get(clientID); ok {
		return rec.count
	}
	return 0
}

// recordIndicator accumulates a threat indicator, raising its confidence by
// 5 on every recurrence, capped at 100 (§4.11).
func (m *Monitor) recordIndicator(kind IndicatorType, value, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordIndicatorLocked(kind, value, source)
}

// Indicators returns a snapshot of every accumulated threat indicator.
func (m *Monitor) Indicators() []Indicator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Indicator, 0, len(m.indicators))
	for _, ind := range m.indicators {
		out = append(out, *ind)
	}
	return out
}

// IsBlocked reports whether ip is currently blocklisted.
func (m *Monitor) IsBlocked(ip string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	until, ok := m.blocklist[ip]
	if !ok {
		return false
	}
	return time.Now().Before(until)
}

// Block adds ip to the blocklist for duration (a zero duration blocks
// indefinitely).
func (m *Monitor) Block(ip string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unblock := time.Time{}
	if duration > 0 {
		unblock = time.Now().Add(duration)
	} else {
		unblock = time.Now().AddDate(100, 0, 0)
	}
	m.blocklist[ip] = unblock
	m.recordIndicatorLocked(IndicatorIP, ip, "blocklist")
}

func (m *Monitor) recordIndicatorLocked(kind IndicatorType, value, source string) {
	key := string(kind) + ":" + value
	now := time.Now()
	if ind, ok := m.indicators[key]; ok {
		ind.Count++
		ind.LastSeen = now
		ind.Confidence += 5
		if ind.Confidence > 100 {
			ind.Confidence = 100
		}
		return
	}
	m.indicators[key] = &Indicator{
		Type: kind, Value: value, Confidence: 5, Source: source,
		FirstSeen: now, LastSeen: now, Count: 1,
	}
}

// Observe records one request from clientID in its hourly behavioral
// baseline and reports whether this hour's count is anomalous: more than
// 2x the client's historical average (§4.11).
func (m *Monitor) Observe(clientID string) (anomaly bool, confidence int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hist, ok := m.baselines[clientID]
	if !ok {
		hist = &hourlyHistogram{counts: make(map[int64]int)}
		m.baselines[clientID] = hist
	}

	hourEpoch := time.Now().Truncate(time.Hour).Unix()
	hist.counts[hourEpoch]++

	if len(hist.counts) < 2 {
		return false, 0
	}

	var total, buckets int
	for epoch, c := range hist.counts {
		if epoch == hourEpoch {
			continue
		}
		total += c
		buckets++
	}
	if buckets == 0 {
		return false, 0
	}
	avg := float64(total) / float64(buckets)
	current := float64(hist.counts[hourEpoch])
	if avg == 0 || current <= avg*2 {
		return false, 0
	}

	deviation := current / avg
	confidence = int((deviation - 2) * 25)
	if confidence > 100 {
		confidence = 100
	}
	if confidence < 5 {
		confidence = 5
	}
	m.recordIndicatorLocked(IndicatorBehavior, clientID, "baseline")
	return true, confidence
}

// Mitigate evaluates the escalation ladder against clientID's current
// offense count and, for a "block" action, adds sourceIP to the blocklist
// for the matched rule's duration. It returns the highest-priority action
// that applies (§4.11: "a block action appends the source IP to the
// blocklist for the duration").
func (m *Monitor) Mitigate(clientID, sourceIP string) EscalationAction {
	count := m.OffenseCount(clientID)

	m.mu.Lock()
	ladder := m.ladder
	m.mu.Unlock()

	action := EscalationAction("")
	var blockFor time.Duration
	for _, rule := range ladder {
		if count >= rule.MinOffenses {
			action = rule.Action
			blockFor = rule.BlockFor
		}
	}
	if action == ActionBlock && sourceIP != "" {
		m.Block(sourceIP, blockFor)
	}
	return action
}

// Check runs the full §4.11 verdict pipeline: pattern scan, blocklist
// membership, and behavioral-baseline anomaly detection, then mitigates via
// the escalation ladder if the request is threatening.
func (m *Monitor) Check(clientID, sourceIP, input string) Verdict {
	if m.IsBlocked(sourceIP) {
		return Verdict{Threat: true, Blocked: true, Action: ActionBlock}
	}

	findings := m.Scan(clientID, input)
	anomaly, _ := m.Observe(clientID)

	v := Verdict{Threat: len(findings) > 0 || anomaly, Findings: findings, Anomaly: anomaly}
	if v.Threat {
		v.Action = m.Mitigate(clientID, sourceIP)
		v.Blocked = v.Action == ActionBlock || v.Action == ActionQuarantine
	}
	return v
}
