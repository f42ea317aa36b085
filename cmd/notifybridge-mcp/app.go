// app.go — constructs every shared component from config and bundles them
// into an App, mirroring the teacher's single-struct-of-dependencies
// wiring in cmd/dev-console's Server type.
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dev-console/notifybridge/internal/alerting"
	"github.com/dev-console/notifybridge/internal/bridge"
	"github.com/dev-console/notifybridge/internal/bus"
	"github.com/dev-console/notifybridge/internal/buffers"
	"github.com/dev-console/notifybridge/internal/config"
	"github.com/dev-console/notifybridge/internal/dispatch"
	"github.com/dev-console/notifybridge/internal/events"
	"github.com/dev-console/notifybridge/internal/fsops"
	"github.com/dev-console/notifybridge/internal/health"
	"github.com/dev-console/notifybridge/internal/httppool"
	"github.com/dev-console/notifybridge/internal/metrics"
	"github.com/dev-console/notifybridge/internal/ratelimit"
	"github.com/dev-console/notifybridge/internal/redaction"
	"github.com/dev-console/notifybridge/internal/responses"
	"github.com/dev-console/notifybridge/internal/security"
	"github.com/dev-console/notifybridge/internal/taskstatus"
	"github.com/dev-console/notifybridge/internal/tracing"
	"github.com/rs/zerolog/log"
)

// counters backs the handful of gauges the §3.3 bridge status view needs
// that don't already live behind the metrics registry (process start time,
// last-event timestamp).
type counters struct {
	startedAt      time.Time
	lastEventUnix  atomic.Int64
	eventsProcessed atomic.Int64
	errorCount      atomic.Int64
}

func (c *counters) touchEvent() {
	c.lastEventUnix.Store(time.Now().UnixMilli())
	c.eventsProcessed.Add(1)
}

func (c *counters) touchError() {
	c.errorCount.Add(1)
}

func (c *counters) lastEventTime() *time.Time {
	ms := c.lastEventUnix.Load()
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// App bundles every long-lived component the dispatcher's tool handlers
// and the admin HTTP surface share.
type App struct {
	cfg *config.Config

	metrics  *metrics.Registry
	redactor *redaction.RedactionEngine
	pool     *buffers.Pool
	httpPool *httppool.Pool
	bus      *bus.Bus

	events    *events.Pipeline
	responses *responses.Engine
	manager   *bridge.Manager
	health    *health.Checker
	security  *security.Monitor
	limiter   *ratelimit.Limiter
	alerting  *alerting.Engine
	tasks     *taskstatus.Aggregator
	fsops     *fsops.Optimizer

	dispatcher *dispatch.Dispatcher
	counters   *counters

	tracerShutdown func(context.Context) error
}

// buildApp constructs every component wired from cfg, following the
// dependency order each package's constructor requires (pools and the bus
// before anything that consumes them, the security/rate-limit pair before
// the dispatcher that wraps them), then registers the tool surface.
func buildApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.EventsDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ResponsesDir, 0o755); err != nil {
		return nil, err
	}

	metricsReg := metrics.Init()
	redactor := redaction.NewRedactionEngine(cfg.RedactionConfigFile)
	pool := buffers.NewPool()
	httpPool := httppool.NewPool()
	eventBus := bus.New()

	eventPipeline := events.NewPipeline(cfg.EventsDir, pool)

	monitor, err := security.NewMonitor(nil, 0)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ratelimit.Config{
		GlobalPerMinute: cfg.RateLimitGlobalPerMinute,
		ClientPerMinute: cfg.RateLimitClientPerMinute,
		ToolPerMinute:   cfg.RateLimitToolPerMinute,
		BurstSize:       cfg.RateLimitBurst,
	})

	eventExists := func(eventID string) bool {
		matches, _ := filepath.Glob(filepath.Join(cfg.EventsDir, eventID+"_*.json"))
		return len(matches) > 0
	}
	optimizer := fsops.NewOptimizer()
	responseEngine := responses.NewEngine(cfg.ResponsesDir, eventExists).WithOptimizer(optimizer)

	manager := bridge.NewManager(bridge.Options{
		Executable: cfg.BridgeExecutable,
		Args:       cfg.BridgeArgs,
		EnvFiles:   cfg.BridgeEnvFiles,
		HealthPort: cfg.BridgeHealthPort,
		Client:     httpPool.Client(httppool.PurposeDefault),
	})

	checker := health.NewChecker(httpPool.Client(httppool.PurposeHealth))
	checker.Register(health.Endpoint{
		Name:     "bridge",
		URL:      "http://127.0.0.1:" + strconv.Itoa(cfg.BridgeHealthPort) + "/health",
		Critical: true,
	})
	if err := checker.Start("@every 30s"); err != nil {
		return nil, err
	}

	channels := buildAlertChannels(cfg, eventPipeline)
	alertEngine := alerting.NewEngine(defaultAlertRules(), channels, eventBus)

	taskAgg := taskstatus.NewAggregator(buildTaskTrackers(cfg.TaskTrackerPath)...)

	d := dispatch.New(nil, limiter, monitor)
	if cfg.SecureLogging {
		d = d.WithRedactor(redactor)
	}

	app := &App{
		cfg:        cfg,
		metrics:    metricsReg,
		redactor:   redactor,
		pool:       pool,
		httpPool:   httpPool,
		bus:        eventBus,
		events:     eventPipeline,
		responses:  responseEngine,
		manager:    manager,
		health:     checker,
		security:   monitor,
		limiter:    limiter,
		alerting:   alertEngine,
		tasks:      taskAgg,
		fsops:      optimizer,
		dispatcher: d,
		counters:   &counters{startedAt: time.Now()},
	}

	pool.StartMaintenance(ctx, 30*time.Second, 512<<20, func(ev buffers.PressureEvent) {
		log.Warn().Uint64("heap_alloc_bytes", ev.HeapAllocBytes).Uint64("threshold_bytes", ev.ThresholdBytes).
			Msg("buffer pool under memory pressure, halved")
	})

	app.tracerShutdown = tracing.Init(cfg.TracingEnabled)

	watchResponses(ctx, app)
	registerTools(app)

	return app, nil
}

func buildAlertChannels(cfg *config.Config, pipeline *events.Pipeline) []alerting.Channel {
	var chs []alerting.Channel
	if cfg.SlackWebhookURL != "" || cfg.SlackBotToken != "" {
		chs = append(chs, &alerting.SlackChannel{
			WebhookURL: cfg.SlackWebhookURL,
			BotToken:   cfg.SlackBotToken,
			ChannelID:  cfg.SlackChannel,
		})
	}
	if cfg.WebhookURL != "" {
		chs = append(chs, &alerting.WebhookChannel{URL: cfg.WebhookURL, Client: http.DefaultClient})
	}
	if cfg.PagerDutyRoutingKey != "" {
		chs = append(chs, &alerting.PagerDutyChannel{RoutingKey: cfg.PagerDutyRoutingKey, Client: http.DefaultClient})
	}
	if cfg.EmailSMTPAddr != "" && len(cfg.EmailTo) > 0 {
		chs = append(chs, &alerting.EmailChannel{SMTPAddr: cfg.EmailSMTPAddr, From: cfg.EmailFrom, To: cfg.EmailTo})
	}
	// Every deployment gets the telegram channel: it reuses the event
	// pipeline rather than a dedicated client (§9 design note).
	chs = append(chs, &alerting.TelegramChannel{Pipeline: pipeline})
	return chs
}

// defaultAlertRules wires the headline rules a fresh deployment ships
// with: a down bridge and a confirmed security block, both delivered
// through telegram (the one channel every deployment has by construction).
func defaultAlertRules() []alerting.Rule {
	return []alerting.Rule{
		{
			Name:      "bridge-down",
			Metric:    "health.unhealthy",
			Condition: alerting.CondGTE,
			Threshold: 1,
			Severity:  "critical",
			Channels:  []string{"telegram"},
		},
		{
			Name:      "security-blocked",
			Metric:    "security.blocked",
			Condition: alerting.CondGTE,
			Threshold: 1,
			Severity:  "high",
			Channels:  []string{"telegram"},
		},
	}
}

func buildTaskTrackers(path string) []taskstatus.Tracker {
	if path == "" {
		return nil
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if strings.Contains(path, "hierarch") {
		return []taskstatus.Tracker{&taskstatus.HierarchicalTracker{TrackerName: name, Path: path}}
	}
	return []taskstatus.Tracker{&taskstatus.FlatTracker{TrackerName: name, Path: path}}
}

// shutdown releases every background goroutine the app started.
func (a *App) shutdown(ctx context.Context) {
	a.health.Stop()
	a.pool.Stop()
	_ = a.fsops.Close()
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(ctx)
	}
}
