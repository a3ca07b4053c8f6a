// Package bootstrap wires all dependencies and starts the application:
// config, logger, database, event bus, registry, factory, invocation cache,
// bundle loader and watcher, metrics, and the introspection HTTP server.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/plugkit/adapters/metrics"
	"github.com/artpar/plugkit/adapters/sqlite"
	"github.com/artpar/plugkit/config"
	"github.com/artpar/plugkit/core/bundle"
	"github.com/artpar/plugkit/core/events"
	"github.com/artpar/plugkit/core/factory"
	"github.com/artpar/plugkit/core/invocation"
	"github.com/artpar/plugkit/core/registry"
	"github.com/artpar/plugkit/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Bus      *events.Bus
	Registry *registry.Registry
	Factory  *factory.Factory
	Cache    *invocation.Cache
	Loader   *bundle.Loader
	Watcher  *bundle.Watcher

	cfg    *config.Config
	holder *config.Holder
}

// New creates the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	return build(cfg, nil)
}

// NewWithHotReload creates the application with config file watching and
// SIGHUP reload.
func NewWithHotReload(path string) (*App, error) {
	logger := setupLogger(config.Default().Logging)

	holder, err := config.NewHolder(path, logger)
	if err != nil {
		return nil, err
	}
	return build(holder.Get(), holder)
}

func build(cfg *config.Config, holder *config.Holder) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	bus := events.NewBus(logger)
	reg := registry.New(cfg.Registry.DefaultNamespace, logger, bus)
	fac := factory.New(reg, logger, bus)
	cache := invocation.New(logger, bus)
	store := sqlite.NewBundleStore(db)
	loader := bundle.NewLoader(reg, store, logger, bus)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		collector.Subscribe(bus)
		collector.ObserveState(reg, fac, cache)
	}

	app := &App{
		Logger:   logger,
		DB:       db,
		Metrics:  collector,
		Bus:      bus,
		Registry: reg,
		Factory:  fac,
		Cache:    cache,
		Loader:   loader,
		cfg:      cfg,
		holder:   holder,
	}

	handler := web.NewHandler(web.Deps{
		Registry:  reg,
		Factory:   fac,
		Cache:     cache,
		Loader:    loader,
		Store:     store,
		Collector: collector,
		Logger:    logger,
	})

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}

	app.HTTPServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler.Router(metricsPath),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if holder != nil {
		holder.OnChange(func(newCfg *config.Config) {
			applyLogLevel(newCfg.Logging)
		})
	}

	return app, nil
}

// Run starts the bundle watcher and HTTP server and blocks until SIGINT or
// SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.startBundles(ctx); err != nil {
		return err
	}

	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Error().Err(err).Msg("config watch failed, continuing without")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("introspection server listening")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// startBundles ensures the bundle directory exists, loads existing bundles,
// and starts the directory watcher when enabled.
func (a *App) startBundles(ctx context.Context) error {
	dir := a.cfg.Bundles.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundles dir: %w", err)
	}

	watcher := bundle.NewWatcher(a.Loader, dir, a.Logger)
	if err := watcher.LoadExisting(ctx); err != nil {
		return fmt.Errorf("load bundles: %w", err)
	}

	if a.cfg.Bundles.Watch {
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch bundles: %w", err)
		}
		a.Watcher = watcher
	}
	return nil
}

// Shutdown stops the watcher, drains the HTTP server, and closes resources.
func (a *App) Shutdown() error {
	if a.Watcher != nil {
		a.Watcher.Stop()
	}
	if a.holder != nil {
		a.holder.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}
	if err := a.DB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	applyLogLevel(cfg)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func applyLogLevel(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
