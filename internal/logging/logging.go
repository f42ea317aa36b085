// Package logging provides the structured, correlation-id aware logger used
// across the bridge core. Every field passed through WithSanitizedFields is
// scrubbed via internal/redaction before it reaches the sink, so secrets
// embedded in tool arguments or response bodies never land in the log file.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dev-console/notifybridge/internal/redaction"
)

// Init sets up the process-wide default logger. level is a zerolog level
// name ("debug", "info", "warn", "error"); format is one of "json", "pretty",
// or "simple" (§3's `log_format` setting); writer defaults to stdout.
func Init(level, format string, writer io.Writer) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	if writer == nil {
		writer = os.Stdout
	}

	zerolog.SetGlobalLevel(logLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.CallerFieldName = "source"

	sink := sinkFor(format, writer)
	log := zerolog.New(sink).With().Timestamp().Caller().Logger()
	zerolog.DefaultContextLogger = &log
}

// sinkFor adapts the configured log_format onto a zerolog-compatible writer:
// "pretty" gets zerolog's human-readable console writer, "simple" strips
// timestamps/callers down to level+message via a minimal wrapper, "json"
// (the default) writes zerolog's native structured output unmodified.
func sinkFor(format string, writer io.Writer) io.Writer {
	switch format {
	case "pretty":
		return zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	case "simple":
		return simpleWriter{out: writer}
	default:
		return writer
	}
}

// simpleWriter renders each JSON log line as "LEVEL message" with no other
// fields, for operators who want terse console output without pretty-print
// coloring overhead.
type simpleWriter struct{ out io.Writer }

func (s simpleWriter) Write(p []byte) (int, error) {
	var parsed map[string]any
	if err := json.Unmarshal(p, &parsed); err != nil {
		return s.out.Write(p)
	}
	level, _ := parsed["level"].(string)
	msg, _ := parsed["message"].(string)
	_, err := fmt.Fprintf(s.out, "%s %s\n", level, msg)
	return len(p), err
}

// FromContext returns the logger carried on ctx, or the process default.
func FromContext(ctx context.Context) *zerolog.Logger {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		if def := zerolog.DefaultContextLogger; def != nil {
			return def
		}
		l := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
		return &l
	}
	return logger
}

// WithCorrelationID attaches a correlation id (an event_id or response_id)
// to the logger and returns both the updated context and logger.
func WithCorrelationID(ctx context.Context, correlationID string) (context.Context, *zerolog.Logger) {
	logger := FromContext(ctx).With().Str("correlation_id", correlationID).Logger()
	return logger.WithContext(ctx), &logger
}

// SanitizedString runs a value through the shared redaction engine before
// it is attached to a log event, so secrets in tool arguments never reach
// the log sink even when a handler logs its raw input for debugging.
func SanitizedString(engine *redaction.RedactionEngine, s string) string {
	if engine == nil {
		return s
	}
	return engine.Redact(s)
}
