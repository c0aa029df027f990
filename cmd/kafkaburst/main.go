package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kafkaburst/internal/api"
	"kafkaburst/internal/config"
	"kafkaburst/internal/engine"
	"kafkaburst/internal/kafka"
	"kafkaburst/internal/metrics"
	"kafkaburst/internal/tracing"
)

// version is stamped by the build via -ldflags "-X main.version=...".
var version = "dev"

const (
	pingTimeout       = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	publisher, err := kafka.New(cfg.Kafka, logger, provider.Tracer())
	if err != nil {
		return err
	}
	defer publisher.Close()

	// A dead broker at boot is not fatal: the health endpoint reports it
	// and starts are rejected until connectivity returns.
	pingCtx, pingDone := context.WithTimeout(ctx, pingTimeout)
	if err := publisher.Ping(pingCtx); err != nil {
		logger.Warn("kafka unreachable at startup", "brokers", cfg.Kafka.BootstrapServers, "error", err)
	} else {
		logger.Info("kafka connected", "brokers", cfg.Kafka.BootstrapServers)
	}
	pingDone()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	eng, err := engine.New(engine.Options{
		Publisher:        publisher,
		PoolSize:         cfg.Load.PoolSize,
		SnapshotInterval: cfg.Load.SnapshotInterval,
		DrainGrace:       cfg.Load.DrainGrace,
		Logger:           logger,
		Metrics:          recorder,
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	router := api.NewRouter(logger, eng, publisher, recorder, registry, cfg.Kafka.DefaultTopic, version)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, draining")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	return <-errCh
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
