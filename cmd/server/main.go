/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and environment configuration, apply flag overrides
  2. Build the zap logger
  3. Open the store selected by STORE_DRIVER
  4. Build the notifier chain and the leave.Service
  5. Seed the catalog from LEAVE_TYPES_FILE, if set
  6. Connect Redis for idempotency, if REDIS_ADDR is set
  7. Configure the HTTP router and start the rollover scheduler
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides ADDR)
  -db      SQLite database path (overrides SQLITE_PATH and selects sqlite)
           Use ":memory:" for an in-memory database
  -env     Extra .env file to load

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollover scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain notifications, close Redis and the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/leave.db"

  # Run against Postgres
  STORE_DRIVER=postgres DATABASE_URL=postgres://... JWT_SECRET=... ./server

SEE ALSO:
  - config/config.go: Environment keys
  - bootstrap/bootstrap.go: Dependency wiring
  - api/server.go: Router configuration
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

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/bootstrap"
	"github.com/warp/leave-engine/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	// Flags
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	envFile := flag.String("env", "", "additional .env file")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.StoreDriver = config.DriverSQLite
		cfg.SQLitePath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := bootstrap.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()

	// Initialize store
	store, closeStore, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(context.Background()); err != nil {
			logger.Error("close store", zap.Error(err))
		}
	}()

	notifier, closeNotifier := bootstrap.NewNotifier(cfg, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := closeNotifier(drainCtx); err != nil {
			logger.Error("close notifier", zap.Error(err))
		}
	}()

	svc, err := bootstrap.NewService(cfg, store, logger, notifier)
	if err != nil {
		return err
	}
	if err := bootstrap.SeedCatalog(ctx, svc, cfg.LeaveTypesFile, api.SystemActor, logger); err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}

	routerCfg := api.RouterConfig{
		JWTSecret:      []byte(cfg.JWTSecret),
		CORSOrigins:    cfg.CORSOrigins,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	rdb, err := bootstrap.NewRedis(ctx, cfg, logger, 5)
	if err != nil {
		return err
	}
	if rdb != nil {
		routerCfg.Redis = rdb
		defer rdb.Close()
	}

	handler := api.NewHandler(svc, store, logger)
	router := api.NewRouter(handler, routerCfg)

	scheduler := api.NewRolloverScheduler(svc, logger)
	scheduler.CheckInterval = cfg.RolloverInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.StoreDriver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
