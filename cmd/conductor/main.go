// Package main is the entry point for the conductor daemon. It wires the
// lifecycle registry and bundle orchestrator, registers the built-in services
// (Redis statestore, Kafka event publisher, admin API), starts everything in
// dependency order and handles graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/cobaltlabs/conductor/internal/admin"
	"github.com/cobaltlabs/conductor/internal/statestore"
	"github.com/cobaltlabs/conductor/internal/stream"
	"github.com/cobaltlabs/conductor/pkg/bundle"
	"github.com/cobaltlabs/conductor/pkg/config"
	"github.com/cobaltlabs/conductor/pkg/lifecycle"
	"github.com/cobaltlabs/conductor/pkg/logging"
	"github.com/cobaltlabs/conductor/pkg/metrics"
)

func main() {
	configFile := pflag.String("config", "", "Path to configuration file")
	envFile := pflag.String("env-file", ".env", "Path to .env file")
	logLevel := pflag.String("log-level", "", "Log level (debug, info, warn, error)")
	pflag.Parse()

	opts := config.DefaultLoadOptions()
	opts.ConfigFile = *configFile
	opts.EnvFile = *envFile

	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	logger := logging.New(logging.Config{
		Level:       logging.LogLevel(cfg.Log.Level),
		Output:      os.Stdout,
		ServiceName: "conductor",
		Environment: cfg.Log.Environment,
	})

	metricsCollector := metrics.New(metrics.Config{Namespace: cfg.Metrics.Namespace})

	registry := lifecycle.NewRegistry(lifecycle.Options{
		Logger:              logger,
		HealthCheckInterval: cfg.Lifecycle.HealthCheckInterval,
		HookTimeout:         cfg.Lifecycle.HookTimeout,
	})
	observer := metrics.Observe(metricsCollector, registry.Events())

	orchestrator := bundle.NewOrchestrator(bundle.Options{
		Logger:   logger,
		Metrics:  metricsCollector,
		Bus:      registry.Events(),
		BasePort: cfg.Bundle.BasePort,
	})

	logger.Info("registering services")
	registry.Register(statestore.Descriptor(cfg.Redis))
	registry.Register(stream.Descriptor(cfg.Kafka, registry.Events(), logger))
	registry.Register(admin.Descriptor(cfg, registry, orchestrator, logger, metricsCollector))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.Initialize(ctx); err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}
	fmt.Print(registry.StatusReport())

	// Mirror lifecycle events and snapshots into the statestore once it is up
	var watcher *statestore.Watcher
	if store, ok := registry.Get("statestore").(*statestore.Store); ok {
		watcher = statestore.Watch(store, registry, logger)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	if watcher != nil {
		watcher.Stop()
	}
	observer.Stop()
	logger.Info("shutdown complete")
}
