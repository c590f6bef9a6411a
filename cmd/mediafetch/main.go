// Command mediafetch is a media asset fetch and categorization service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"

	"github.com/wolfeidau/mediafetch/server"
	"github.com/wolfeidau/mediafetch/telemetry"
)

var version = "dev"

type cli struct {
	Address        string        `help:"Address to listen on." default:":8080"`
	Downloads      string        `help:"Download directory path." default:"./downloads"`
	ProviderURL    string        `help:"Upstream media catalog base URL." env:"PROVIDER_URL"`
	ProviderAPIKey string        `help:"API key for the media catalog." env:"PROVIDER_API_KEY"`
	SearchTTL      time.Duration `help:"TTL for cached search responses." default:"1h"`
	SweepInterval  time.Duration `help:"How often expired cache entries are swept." default:"5m"`
	Concurrency    int           `help:"Parallel transfers within a batch." default:"3"`
	Timeout        time.Duration `help:"Per-transfer timeout." default:"60s"`
	Snapshots      int           `help:"Ledger snapshots retained across rewrites." default:"5"`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info" enum:"debug,info,warn,error"`
	LogFormat string `help:"Log format (text, json)." default:"text" enum:"text,json"`

	OTLPEndpoint string `help:"OTLP gRPC endpoint for metrics export." env:"OTLP_ENDPOINT"`
	Prometheus   bool   `help:"Expose Prometheus metrics on /metrics."`

	Version kong.VersionFlag `help:"Print version and exit."`
}

func main() {
	var flags cli
	kctx := kong.Parse(&flags,
		kong.Name("mediafetch"),
		kong.Description("Media asset fetch and categorization service."),
		kong.Vars{"version": version},
	)

	kctx.FatalIfErrorf(run(flags))
}

func run(flags cli) error {
	logger, err := buildLogger(flags.LogLevel, flags.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricsConfig{
		ServiceName:      "mediafetch",
		ServiceVersion:   version,
		OTLPEndpoint:     flags.OTLPEndpoint,
		EnablePrometheus: flags.Prometheus,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(ctx, server.Config{
		Address:            flags.Address,
		DownloadDir:        flags.Downloads,
		ProviderURL:        flags.ProviderURL,
		ProviderAPIKey:     flags.ProviderAPIKey,
		SearchTTL:          flags.SearchTTL,
		CacheSweepInterval: flags.SweepInterval,
		Concurrency:        flags.Concurrency,
		TransferTimeout:    flags.Timeout,
		LedgerSnapshots:    flags.Snapshots,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("server started", "address", srv.Address(), "downloads", flags.Downloads)

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	var handler slog.Handler
	switch format {
	case "text":
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: lvl})
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	return slog.New(handler), nil
}
