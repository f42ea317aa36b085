// Package config loads notifybridge's configuration through the standard
// cascade: built-in defaults, then a global config file, then a project
// config file, then environment variables, then command-line flags — each
// tier overriding the one before it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable for the core bridge process.
type Config struct {
	// Drop-zone directories (§6.5).
	EventsDir    string `mapstructure:"events-dir"`
	ResponsesDir string `mapstructure:"responses-dir"`

	// Bridge lifecycle.
	BridgeExecutable string   `mapstructure:"bridge-executable"`
	BridgeArgs       []string `mapstructure:"bridge-args"`
	BridgeEnvFiles   []string `mapstructure:"bridge-env-files"`
	BridgeStartupMax int      `mapstructure:"bridge-startup-timeout-seconds"`
	// BridgeHealthPort is the port the external delivery bridge's own
	// /health endpoint listens on (§6.5) — distinct from Port, which is
	// this core process's own admin surface.
	BridgeHealthPort int `mapstructure:"bridge-health-port"`

	// Core admin HTTP surface (§6.4).
	Port          int  `mapstructure:"port"`
	MetricsEnable bool `mapstructure:"metrics-enabled"`

	// Logging.
	LogLevel      string `mapstructure:"log-level"`
	LogFile       string `mapstructure:"log-file"`
	LogFormat     string `mapstructure:"log-format"`
	SecureLogging bool   `mapstructure:"secure-logging"`

	// Rate limiting (C6).
	RateLimitGlobalPerMinute int `mapstructure:"rate-limit-global-per-minute"`
	RateLimitClientPerMinute int `mapstructure:"rate-limit-client-per-minute"`
	RateLimitToolPerMinute   int `mapstructure:"rate-limit-tool-per-minute"`
	RateLimitBurst           int `mapstructure:"rate-limit-burst"`

	// Security (C11).
	SecurityConfigFile string `mapstructure:"security-config-file"`

	// Redaction (C1).
	RedactionConfigFile string `mapstructure:"redaction-config-file"`

	// Alerting (C12).
	SlackWebhookURL    string `mapstructure:"alert-slack-webhook-url"`
	SlackBotToken      string `mapstructure:"alert-slack-bot-token"`
	SlackChannel       string `mapstructure:"alert-slack-channel"`
	WebhookURL         string `mapstructure:"alert-webhook-url"`
	PagerDutyRoutingKey string `mapstructure:"alert-pagerduty-routing-key"`
	EmailSMTPAddr      string `mapstructure:"alert-email-smtp-addr"`
	EmailFrom          string `mapstructure:"alert-email-from"`
	EmailTo            []string `mapstructure:"alert-email-to"`

	// Tracing (C10).
	TracingEndpoint string `mapstructure:"tracing-endpoint"`
	TracingEnabled  bool   `mapstructure:"tracing-enabled"`

	// Health checking (C7).
	HealthCheckIntervalSeconds int `mapstructure:"health-check-interval-seconds"`

	// Response ingestion (C15).
	ResponseDedupeCacheSize int `mapstructure:"response-dedupe-cache-size"`
	ResponseRetentionHours  int `mapstructure:"response-retention-hours"`

	// Task-status aggregator (C17).
	TaskTrackerPath string `mapstructure:"task-tracker-path"`

	// auth token gating the admin HTTP surface.
	AuthToken string `mapstructure:"auth-token"`
}

const envPrefix = "NOTIFYBRIDGE"

// Load runs the full configuration cascade for a given project directory
// (the directory containing an optional .notifybridge.json). flags, if
// non-nil, is bound ahead of env/file resolution so command-line overrides
// always win.
func Load(projectDir string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if globalPath, err := GlobalConfigPath(); err == nil {
		mergeFile(v, globalPath)
	}
	if projectDir != "" {
		mergeFile(v, filepath.Join(projectDir, ".notifybridge.json"))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// mergeFile merges a JSON config file's keys into v's config layer if the
// file exists and parses. A missing or malformed file is silently skipped —
// later tiers (env, flags) still apply.
func mergeFile(v *viper.Viper, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	_ = v.MergeInConfig()
}

// GlobalConfigPath returns the default per-user global config file location.
func GlobalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".notifybridge", "config.json"), nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("events-dir", filepath.Join(home, ".cc_telegram", "events"))
	v.SetDefault("responses-dir", filepath.Join(home, ".cc_telegram", "responses"))
	v.SetDefault("bridge-executable", "")
	v.SetDefault("bridge-args", []string{})
	v.SetDefault("bridge-env-files", []string{".env", ".env.local"})
	v.SetDefault("bridge-startup-timeout-seconds", 30)
	v.SetDefault("bridge-health-port", 8080)
	v.SetDefault("port", 8765)
	v.SetDefault("metrics-enabled", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("log-format", "json")
	v.SetDefault("secure-logging", true)
	v.SetDefault("rate-limit-global-per-minute", 600)
	v.SetDefault("rate-limit-client-per-minute", 120)
	v.SetDefault("rate-limit-tool-per-minute", 60)
	v.SetDefault("rate-limit-burst", 10)
	v.SetDefault("security-config-file", "")
	v.SetDefault("redaction-config-file", "")
	v.SetDefault("alert-slack-webhook-url", "")
	v.SetDefault("alert-slack-bot-token", "")
	v.SetDefault("alert-slack-channel", "")
	v.SetDefault("alert-webhook-url", "")
	v.SetDefault("alert-pagerduty-routing-key", "")
	v.SetDefault("alert-email-smtp-addr", "")
	v.SetDefault("alert-email-from", "")
	v.SetDefault("alert-email-to", []string{})
	v.SetDefault("tracing-endpoint", "")
	v.SetDefault("tracing-enabled", false)
	v.SetDefault("health-check-interval-seconds", 30)
	v.SetDefault("response-dedupe-cache-size", 1024)
	v.SetDefault("response-retention-hours", 72)
	v.SetDefault("task-tracker-path", "")
	v.SetDefault("auth-token", "")
}

// Validate rejects configurations that would make the core unable to start.
func (c *Config) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	ok := false
	for _, l := range validLevels {
		if c.LogLevel == l {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log-level: %s, must be one of %v", c.LogLevel, validLevels)
	}
	validFormats := []string{"json", "pretty", "simple"}
	ok = false
	for _, f := range validFormats {
		if c.LogFormat == f {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("invalid log-format: %s, must be one of %v", c.LogFormat, validFormats)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be between 1 and 65535", c.Port)
	}
	if c.EventsDir == "" || c.ResponsesDir == "" {
		return fmt.Errorf("events-dir and responses-dir must both be set")
	}
	if c.RateLimitGlobalPerMinute <= 0 || c.RateLimitClientPerMinute <= 0 || c.RateLimitToolPerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}

// HealthCheckInterval returns the configured interval as a time.Duration.
func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// BridgeStartupTimeout returns the configured bridge startup timeout.
func (c *Config) BridgeStartupTimeout() time.Duration {
	return time.Duration(c.BridgeStartupMax) * time.Second
}
