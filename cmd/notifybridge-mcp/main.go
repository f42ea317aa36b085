// main.go — the notifybridge-mcp entrypoint: loads configuration, builds
// the App, and runs the MCP stdio surface and the admin HTTP surface
// concurrently until an OS signal asks for graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dev-console/notifybridge/internal/config"
	"github.com/dev-console/notifybridge/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("notifybridge-mcp", pflag.ContinueOnError)
	flags.Int("port", 8765, "admin HTTP surface port")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json, pretty, simple")
	flags.String("bridge-executable", "", "path to the external delivery bridge executable")
	projectDir := flags.String("project-dir", ".", "project directory containing .notifybridge.json")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "parse flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*projectDir, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build application")
	}

	adminSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: newAdminRouter(app),
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("admin HTTP surface listening")
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin HTTP surface stopped")
		}
	}()

	stdioErr := make(chan error, 1)
	go func() {
		log.Info().Msg("MCP stdio surface starting")
		stdioErr <- serveStdio(app)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-stdioErr:
		if err != nil {
			log.Error().Err(err).Msg("MCP stdio surface exited")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)
	app.shutdown(shutdownCtx)
}
