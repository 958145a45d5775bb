/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the recargo planilla server.
  Handles configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, config.toml, RECARGO_* variables)
  2. Apply command-line overrides
  3. Build the zap logger
  4. Open the SQLite store; apply the surcharge catalog file if configured
  5. Connect the Redis notifier (when enabled) and the metrics recorder
  6. Build the service, handler and router
  7. Start the server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides app.port)
  -db      SQLite database path (overrides database.path)
           Use ":memory:" for an in-memory database
  -demo    Load the march-walkthrough scenario at startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout)
  3. Close the notifier and the database
  4. Exit

SEE ALSO:
  - config/config.go: Every setting and its default
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/recargo-engine/api"
	"github.com/warp/recargo-engine/config"
	"github.com/warp/recargo-engine/factory"
	"github.com/warp/recargo-engine/logger"
	"github.com/warp/recargo-engine/metrics"
	"github.com/warp/recargo-engine/notify"
	"github.com/warp/recargo-engine/recargo"
	"github.com/warp/recargo-engine/store/sqlite"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "recargo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	port := flag.String("port", "", "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	demo := flag.Bool("demo", false, "Load the demo scenario at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != "" {
		cfg.App.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *demo {
		cfg.App.Demo = true
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if cfg.Catalog.Path != "" {
		if err := applyCatalog(ctx, store, cfg.Catalog.Path); err != nil {
			return err
		}
		log.Info("surcharge catalog applied", zap.String("path", cfg.Catalog.Path))
	}

	rec := metrics.New(metrics.Config{ServiceName: cfg.App.Name, Environment: cfg.App.Env})
	opts := []recargo.Option{
		recargo.WithLogger(log),
		recargo.WithMetrics(rec),
	}
	if cfg.Redis.Enabled {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		notifier, err := notify.Dial(dialCtx, notify.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, notify.WithChannel(cfg.Redis.Channel), notify.WithLogger(log.Named("notify.redis")))
		cancel()
		if err != nil {
			return err
		}
		defer notifier.Close()
		opts = append(opts, recargo.WithNotifier(notifier))
		log.Info("publishing events", zap.String("addr", cfg.Redis.Addr), zap.String("channel", cfg.Redis.Channel))
	}

	svc := recargo.NewService(store, opts...)
	handler := api.NewHandler(svc, store, log)
	if cfg.App.Demo {
		if err := handler.Load(ctx, "march-walkthrough"); err != nil {
			return fmt.Errorf("load demo: %w", err)
		}
	}

	router := api.NewRouter(handler, api.RouterConfig{
		Auth:             api.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer),
		Metrics:          rec,
		Logger:           log,
		CORSAllowOrigins: cfg.HTTP.CORSAllowOrigins,
		Scenarios:        !cfg.IsProduction(),
	})
	if cfg.Auth.Secret == "" {
		log.Warn("no auth secret configured; trusting the " + api.ActorHeader + " header")
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.App.Env),
			zap.String("database", cfg.Database.Path),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// applyCatalog overrides the surcharge type descriptors from a JSON file.
func applyCatalog(ctx context.Context, store *sqlite.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	types, err := factory.NewCatalogFactory().ParseCatalog(string(raw))
	if err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return store.SeedSurchargeTypes(ctx, types)
}
