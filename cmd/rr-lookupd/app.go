package main

import (
	"fmt"
	"os"

	"github.com/haukened/rr-lookup/internal/lookup/common/clock"
	"github.com/haukened/rr-lookup/internal/lookup/common/log"
	"github.com/haukened/rr-lookup/internal/lookup/config"
	"github.com/haukened/rr-lookup/internal/lookup/domain"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers/directory"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers/nop"
	"github.com/haukened/rr-lookup/internal/lookup/gateways/providers/twilio"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist/bloom"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist/bolt"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist/lru"
	"github.com/haukened/rr-lookup/internal/lookup/repos/blacklist/parsers"
	"github.com/haukened/rr-lookup/internal/lookup/services/block"
	"github.com/haukened/rr-lookup/internal/lookup/services/dispatcher"
)

// Application holds all the components of the lookup daemon
type Application struct {
	config     *config.AppConfig
	logger     log.Logger
	blacklist  blacklist.Repository
	dispatcher *dispatcher.Dispatcher

	// newProvider builds a provider instance over the shared backend. The
	// dispatcher owns one; each block helper gets its own.
	newProvider func() dispatcher.Provider

	// numbers lists contact numbers; nil when no directory is configured.
	numbers   block.NumberSource
	directory *directory.Store
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	eviction, err := dispatcher.ParseEvictionPolicy(cfg.PendingEviction)
	if err != nil {
		return nil, err
	}

	repo, err := buildBlacklist(cfg, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build blacklist: %w", err)
	}

	app := &Application{
		config:    cfg,
		logger:    logger,
		blacklist: repo,
	}
	if cfg.BlacklistImport != "" {
		n, err := app.importBlacklist(cfg.BlacklistImport)
		if err != nil {
			_ = repo.Close()
			return nil, fmt.Errorf("failed to import blacklist: %w", err)
		}
		log.Info(map[string]any{"path": cfg.BlacklistImport, "entries": n}, "Blacklist import applied")
	}
	if err := app.buildProviders(cfg, logger); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}

	app.dispatcher = dispatcher.New(dispatcher.Options{
		Provider:   app.newProvider(),
		Logger:     logger,
		Clock:      clk,
		QueueSize:  cfg.QueueSize,
		Eviction:   eviction,
		PendingTTL: cfg.PendingTTL,
	})
	return app, nil
}

// buildBlacklist opens the bbolt store behind an LRU decision cache and a
// Bloom filter. An empty path yields a blacklist that lists nothing.
func buildBlacklist(cfg *config.AppConfig, clk clock.Clock, logger log.Logger) (blacklist.Repository, error) {
	if cfg.BlacklistDB == "" {
		log.Info(map[string]any{"disabled": true}, "Blacklist disabled")
		return &blacklist.NoopBlacklist{}, nil
	}

	store, err := bolt.New(cfg.BlacklistDB)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(cfg.BlacklistCacheSize)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	repo := blacklist.NewRepository(blacklist.Options{
		Store:   store,
		Cache:   cache,
		Factory: bloom.NewFactory(),
		FPRate:  cfg.BlacklistFPRate,
		Clock:   clk,
		Logger:  log.WithFields(logger, map[string]any{"component": "blacklist"}),
	})
	if err := repo.Load(); err != nil {
		_ = repo.Close()
		return nil, err
	}

	stats := repo.Stats()
	log.Info(map[string]any{
		"path":       cfg.BlacklistDB,
		"exact":      stats.Store.ExactCount,
		"prefix":     stats.Store.PrefixCount,
		"cache_size": cfg.BlacklistCacheSize,
		"fp_rate":    cfg.BlacklistFPRate,
	}, "Blacklist loaded")
	return repo, nil
}

// importBlacklist merges the entries listed in path into the blacklist and
// returns how many were written. Entries that fail to write are logged and
// skipped.
func (app *Application) importBlacklist(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entries, err := parsers.ParsePlainList(f, path, app.logger)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	written := 0
	for _, e := range entries {
		if err := app.blacklist.AddOrUpdate(e.Key(), e.Flags, domain.BlockNone); err != nil {
			app.logger.Warn(map[string]any{"number": e.Key(), "error": err.Error()}, "Blacklist import entry failed")
			continue
		}
		written++
	}
	return written, nil
}

// buildProviders sets newProvider for the configured backend. Providers of
// one backend share a single connection or database handle.
func (app *Application) buildProviders(cfg *config.AppConfig, logger log.Logger) error {
	switch cfg.Provider {
	case "twilio":
		conns := twilio.NewConnectionManager(cfg.TwilioAccountSID, cfg.TwilioAuthToken)
		app.newProvider = func() dispatcher.Provider {
			return twilio.New(twilio.Options{
				Timeout:     cfg.FetchTimeout,
				Rate:        cfg.TwilioRate,
				Burst:       cfg.TwilioBurst,
				Connections: conns,
				Logger:      logger,
			})
		}
	case "directory":
		store, err := directory.Open(cfg.DirectoryDB, logger)
		if err != nil {
			return err
		}
		app.directory = store
		app.numbers = store
		app.newProvider = func() dispatcher.Provider {
			return directory.NewProvider(directory.Options{
				Store:   store,
				Timeout: cfg.FetchTimeout,
				Logger:  logger,
			})
		}
	default:
		app.newProvider = func() dispatcher.Provider { return nop.New() }
	}

	log.Info(map[string]any{"provider": cfg.Provider, "timeout": cfg.FetchTimeout}, "Lookup provider configured")
	return nil
}

// Start initializes the dispatcher and its provider.
func (app *Application) Start() bool {
	return app.dispatcher.Initialize()
}

// Close tears down the dispatcher and releases storage.
func (app *Application) Close() {
	app.dispatcher.TearDown()
	if err := app.blacklist.Close(); err != nil {
		app.logger.Warn(map[string]any{"error": err}, "Error closing blacklist")
	}
	if app.directory != nil {
		if err := app.directory.Close(); err != nil {
			app.logger.Warn(map[string]any{"error": err}, "Error closing directory")
		}
	}
}

func (app *Application) blockOptions(cb block.Callbacks) block.Options {
	return block.Options{
		Blacklist: app.blacklist,
		Reporter:  app.newProvider(),
		Callbacks: cb,
		Region:    app.config.DefaultRegion,
		Timeout:   app.config.FetchTimeout,
		Logger:    app.logger,
	}
}
