package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/config"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-lookupd"
)

func main() {
	// A missing .env file is fine; the environment alone may be enough.
	_ = godotenv.Load()

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"app":              appName,
		"version":          version,
		"env":              cfg.Env,
		"log_level":        cfg.LogLevel,
		"provider":         cfg.Provider,
		"default_region":   cfg.DefaultRegion,
		"queue_size":       cfg.QueueSize,
		"pending_eviction": cfg.PendingEviction,
		"blacklist_db":     cfg.BlacklistDB,
	}, "Starting lookup daemon")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}
	defer app.Close()

	if !app.Start() {
		log.Warn(map[string]any{"provider": cfg.Provider}, "Lookup provider unavailable, lookups will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	if err := app.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error(map[string]any{"error": err}, "Command loop failed")
	}

	log.Info(nil, "Lookup daemon stopped")
}
