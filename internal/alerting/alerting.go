// Package alerting implements the alerting engine (C12): rule evaluation,
// fingerprint-based deduplication, suppression, escalation, and multi-
// channel notification dispatch.
package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/smtp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/dev-console/notifybridge/internal/bus"
	"github.com/dev-console/notifybridge/internal/events"
	"github.com/dev-console/notifybridge/internal/retry"
)

// Condition is a comparison operator applied between a metric's current
// value and a rule's threshold.
type Condition string

const (
	CondGT  Condition = "gt"
	CondGTE Condition = "gte"
	CondLT  Condition = "lt"
	CondLTE Condition = "lte"
	CondEQ  Condition = "eq"
	CondNE  Condition = "ne"
)

// Evaluate reports whether value satisfies c against threshold.
func (c Condition) Evaluate(value, threshold float64) bool {
	switch c {
	case CondGT:
		return value > threshold
	case CondGTE:
		return value >= threshold
	case CondLT:
		return value < threshold
	case CondLTE:
		return value <= threshold
	case CondEQ:
		return value == threshold
	case CondNE:
		return value != threshold
	default:
		return false
	}
}

// EscalationLevel is one rung of a rule's escalation ladder.
type EscalationLevel struct {
	Delay    time.Duration
	Channels []string
}

// Rule matches an incoming signal to an alert definition.
type Rule struct {
	Name       string
	Metric     string
	Condition  Condition
	Threshold  float64
	Severity   string
	Channels   []string
	Escalation []EscalationLevel

	// SuppressionWindow is the duplicate-window (default 5 min).
	SuppressionWindow time.Duration
	// SuppressionCeiling is the per-minute ceiling (default 10).
	SuppressionCeiling int
}

// Status is an alert's lifecycle state (§3.4).
type Status string

const (
	StatusFiring      Status = "firing"
	StatusResolved    Status = "resolved"
	StatusSuppressed  Status = "suppressed"
	StatusAcknowledged Status = "acknowledged"
)

// Alert is a single rule-match instance, deduplicated by Fingerprint (§3.4).
type Alert struct {
	ID          string
	Rule        string
	Title       string
	Description string
	Severity    string
	Status      Status

	CreatedAt      time.Time
	UpdatedAt      time.Time
	ResolvedAt     time.Time
	AcknowledgedAt time.Time

	Metric         string
	CurrentValue   float64
	ThresholdValue float64
	DurationMs     int64
	Labels         map[string]string
	Annotations    map[string]string

	Fingerprint         string
	EscalationLevel     int
	Channels            []string
	notifiedChannels    map[string]bool
	suppressionReason   string
	lastMinuteCount     int
	lastMinuteWindow    time.Time
}

// Signal is an incoming metric/security/health observation the engine
// evaluates against its rules.
type Signal struct {
	Metric string
	Source string
	Value  float64
	Labels map[string]string
}

// Channel delivers a firing alert to an external destination.
type Channel interface {
	Name() string
	Send(alert *Alert) error
}

// Engine evaluates signals against rules and manages alert lifecycle,
// suppression, and escalation.
type Engine struct {
	mu       sync.Mutex
	rules    []Rule
	alerts   map[string]*Alert // keyed by fingerprint
	channels map[string]Channel

	failureCounts map[string]int
	executors     map[string]*retry.Executor
}

// NewEngine constructs an Engine with the given rules and notification
// channels, and subscribes it to b so it can react to health/security
// signals published elsewhere in the process (§9 design note on breaking
// the C7/C11 → C12 cycle via a thin bus abstraction).
func NewEngine(rules []Rule, channels []Channel, b *bus.Bus) *Engine {
	e := &Engine{
		rules:         rules,
		alerts:        map[string]*Alert{},
		channels:      map[string]Channel{},
		failureCounts: map[string]int{},
		executors:     map[string]*retry.Executor{},
	}
	for _, c := range channels {
		e.channels[c.Name()] = c
		e.executors[c.Name()] = retry.New("alert-channel:"+c.Name(), retry.Config{
			Attempts:  3,
			BaseDelay: 500 * time.Millisecond,
			MaxDelay:  4 * time.Second,
		})
	}
	if b != nil {
		b.Subscribe(e.handleBusEvent)
	}
	return e
}

func (e *Engine) handleBusEvent(ev bus.Event) {
	value := 1.0
	if f, ok := ev.Payload.(float64); ok {
		value = f
	}
	e.Evaluate(Signal{Metric: ev.Source + "." + ev.Kind, Source: ev.Source, Value: value})
}

// Evaluate runs sig against every matching rule (§4.12 steps 1-4).
func (e *Engine) Evaluate(sig Signal) []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var fired []*Alert
	for _, rule := range e.rules {
		if rule.Metric != sig.Metric {
			continue
		}
		holds := rule.Condition.Evaluate(sig.Value, rule.Threshold)
		fp := fingerprint(rule.Name, rule.Metric, sig.Source, sig.Labels)

		existing, has := e.alerts[fp]
		now := time.Now()

		if has && existing.Status != StatusResolved {
			existing.CurrentValue = sig.Value
			existing.UpdatedAt = now
			minuteKey := now.Truncate(time.Minute)
			if existing.lastMinuteWindow.Equal(minuteKey) {
				existing.lastMinuteCount++
			} else {
				existing.lastMinuteWindow = minuteKey
				existing.lastMinuteCount = 1
			}
			if !holds {
				existing.Status = StatusResolved
				existing.ResolvedAt = now
			}
			fired = append(fired, existing)
			continue
		}

		if !holds {
			continue
		}

		alert := &Alert{
			ID:               fp + "-" + now.Format("20060102T150405"),
			Rule:             rule.Name,
			Title:            rule.Name,
			Severity:         rule.Severity,
			Status:           StatusFiring,
			CreatedAt:        now,
			UpdatedAt:        now,
			Metric:           rule.Metric,
			CurrentValue:     sig.Value,
			ThresholdValue:   rule.Threshold,
			Labels:           sig.Labels,
			Fingerprint:      fp,
			Channels:         rule.Channels,
			notifiedChannels: map[string]bool{},
		}

		if e.suppressed(alert, rule, now) {
			alert.Status = StatusSuppressed
			e.alerts[fp] = alert
			fired = append(fired, alert)
			continue
		}

		e.alerts[fp] = alert
		e.dispatch(alert, rule.Channels, rule.Severity)
		fired = append(fired, alert)
	}
	return fired
}

// suppressed checks rule-based, duplicate-window, and per-minute-ceiling
// suppression conditions (§4.12 step 3).
func (e *Engine) suppressed(alert *Alert, rule Rule, now time.Time) bool {
	window := rule.SuppressionWindow
	if window == 0 {
		window = 5 * time.Minute
	}
	ceiling := rule.SuppressionCeiling
	if ceiling == 0 {
		ceiling = 10
	}

	if prior, ok := e.alerts[alert.Fingerprint]; ok && prior.Status != StatusResolved {
		if now.Sub(prior.UpdatedAt) < window {
			alert.suppressionReason = "duplicate_window"
			return true
		}
	}

	minuteKey := now.Truncate(time.Minute)
	if prior, ok := e.alerts[alert.Fingerprint]; ok && prior.lastMinuteWindow.Equal(minuteKey) {
		if prior.lastMinuteCount >= ceiling {
			alert.suppressionReason = "per_minute_ceiling"
			return true
		}
	}
	return false
}

// Acknowledge transitions an alert to acknowledged (§3.4: never from resolved).
func (e *Engine) Acknowledge(fingerprint string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	alert, ok := e.alerts[fingerprint]
	if !ok {
		return fmt.Errorf("no alert with fingerprint %s", fingerprint)
	}
	if alert.Status == StatusResolved {
		return fmt.Errorf("cannot acknowledge a resolved alert")
	}
	alert.Status = StatusAcknowledged
	alert.AcknowledgedAt = time.Now()
	alert.UpdatedAt = alert.AcknowledgedAt
	return nil
}

// RunEscalation runs one pass of the escalation loop (§4.12 step 5),
// intended to be invoked once per minute by the caller's scheduler.
func (e *Engine) RunEscalation(rules map[string]Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	for _, alert := range e.alerts {
		if alert.Status != StatusFiring {
			continue
		}
		rule, ok := rules[alert.Rule]
		if !ok {
			continue
		}
		nextLevel := alert.EscalationLevel
		if nextLevel >= len(rule.Escalation) {
			continue
		}
		level := rule.Escalation[nextLevel]
		if now.Sub(alert.CreatedAt) < level.Delay {
			continue
		}
		alert.EscalationLevel++
		var fresh []string
		for _, ch := range level.Channels {
			if !alert.notifiedChannels[ch] {
				fresh = append(fresh, ch)
			}
		}
		if len(fresh) > 0 {
			e.dispatch(alert, fresh, alert.Severity)
		}
	}
}

// dispatch sends alert to each named channel through that channel's retry
// executor (exponential backoff under a circuit breaker, §4.12 final
// paragraph); a final failure marks the notification failed and increments
// that channel's failure counter. A tripped breaker fails fast without
// retrying and still counts as a failure.
func (e *Engine) dispatch(alert *Alert, channelNames []string, severity string) {
	for _, name := range channelNames {
		ch, ok := e.channels[name]
		if !ok {
			continue
		}
		alert.notifiedChannels[name] = true

		err := e.executors[name].Do(context.Background(), func(ctx context.Context) error {
			return ch.Send(alert)
		})
		if err != nil {
			e.failureCounts[name]++
		}
	}
}

// FailureCount returns how many times notifications to the named channel
// have exhausted their retry budget.
func (e *Engine) FailureCount(channel string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failureCounts[channel]
}

// fingerprint computes the 16-char dedup key over rule + metric + source +
// labels (§3.4).
func fingerprint(rule, metric, source string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(rule)
	sb.WriteByte('|')
	sb.WriteString(metric)
	sb.WriteByte('|')
	sb.WriteString(source)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(labels[k])
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// SlackChannel dispatches alerts to a Slack channel, via an incoming
// webhook when configured or a bot token otherwise.
type SlackChannel struct {
	WebhookURL string
	BotToken   string
	ChannelID  string
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(alert *Alert) error {
	text := fmt.Sprintf("[%s] %s: %s (value=%.2f threshold=%.2f)",
		alert.Severity, alert.Title, alert.Description, alert.CurrentValue, alert.ThresholdValue)

	if s.WebhookURL != "" {
		return slack.PostWebhook(s.WebhookURL, &slack.WebhookMessage{Text: text})
	}
	client := slack.New(s.BotToken)
	_, _, err := client.PostMessage(s.ChannelID, slack.MsgOptionText(text, false))
	return err
}

// WebhookChannel POSTs a JSON alert body to an arbitrary HTTP endpoint.
// There is no suitable pack library for a generic outbound webhook POST —
// it is a single net/http call with no auth/retry scheme to speak of, so
// it stays on the standard library rather than adopting a client just to
// wrap one request.
type WebhookChannel struct {
	URL    string
	Client *http.Client
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(alert *Alert) error {
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	body := strings.NewReader(fmt.Sprintf(
		`{"id":%q,"rule":%q,"severity":%q,"title":%q,"current_value":%f,"threshold":%f}`,
		alert.ID, alert.Rule, alert.Severity, alert.Title, alert.CurrentValue, alert.ThresholdValue))
	req, err := http.NewRequest(http.MethodPost, w.URL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// PagerDutyChannel sends an Events API v2 trigger. Like WebhookChannel,
// this is one fixed-shape POST to a single endpoint — no PagerDuty client
// appears anywhere in the example corpus, so it stays on net/http rather
// than adopt an unvetted dependency for a single call.
type PagerDutyChannel struct {
	RoutingKey string
	Client     *http.Client
}

func (p *PagerDutyChannel) Name() string { return "pagerduty" }

func (p *PagerDutyChannel) Send(alert *Alert) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	body := strings.NewReader(fmt.Sprintf(
		`{"routing_key":%q,"event_action":"trigger","payload":{"summary":%q,"severity":%q,"source":%q}}`,
		p.RoutingKey, alert.Title, pagerDutySeverity(alert.Severity), alert.Rule))
	req, err := http.NewRequest(http.MethodPost, "https://events.pagerduty.com/v2/enqueue", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("pagerduty channel: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func pagerDutySeverity(severity string) string {
	switch severity {
	case "critical", "high":
		return "critical"
	case "medium":
		return "warning"
	default:
		return "info"
	}
}

// EmailChannel sends a plaintext alert via SMTP. net/smtp has no retry or
// connection-pooling concerns that would justify a third-party mailer for
// what is, here, a single fire-and-forget notification per alert.
type EmailChannel struct {
	SMTPAddr string
	From     string
	To       []string
	Auth     smtp.Auth
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(alert *Alert) error {
	subject := fmt.Sprintf("[%s] %s", alert.Severity, alert.Title)
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\n\nmetric=%s current=%.2f threshold=%.2f\n",
		subject, alert.Description, alert.Metric, alert.CurrentValue, alert.ThresholdValue)
	return smtp.SendMail(e.SMTPAddr, e.Auth, e.From, e.To, []byte(body))
}

// TelegramChannel routes the alert back through the event pipeline (C13)
// as a performance_alert event rather than talking to the chat platform
// directly — the external delivery bridge is the only component with a
// Telegram client (§9 design note: telegram stays in the event/response
// flow while the other channels dispatch directly).
type TelegramChannel struct {
	Pipeline *events.Pipeline
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Send(alert *Alert) error {
	_, err := t.Pipeline.Write(events.Event{
		Type:        events.TypePerformanceAlert,
		Title:       alert.Title,
		Description: alert.Description,
		Data: map[string]any{
			"severity":       alert.Severity,
			"current_value":  alert.CurrentValue,
			"threshold":      alert.ThresholdValue,
		},
	})
	return err
}
