// Package main is the entry point for the kmarket settlement API server. It
// wires the position ledger, market store, chain reconciler, and WebSocket
// hub together and starts the public HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/api"
	"github.com/kmarket/settlement/internal/cache"
	"github.com/kmarket/settlement/internal/config"
	cronrunner "github.com/kmarket/settlement/internal/cron"
	"github.com/kmarket/settlement/internal/reconciler"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/service"
	"github.com/kmarket/settlement/internal/ws"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("KMARKET_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting kmarket settlement server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, cfg.DB.MigrationsDir); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	marketRepo := repository.NewMarketRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	// ── 5. Optional Redis market cache ────────────────────────────────────────
	var marketCache *cache.MarketCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err = rdb.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis ping failed", "err", err)
			os.Exit(1)
		}
		marketCache = cache.NewMarketCache(marketRepo, rdb, cfg.Redis.CacheTTL, logger)
		logger.Info("redis market cache enabled", "addr", cfg.Redis.Addr)
	}

	// ── 6. Services ───────────────────────────────────────────────────────────
	ledgerSvc := service.NewLedgerService(db, positionRepo, marketRepo, cfg, logger)
	resolutionSvc := service.NewResolutionService(db, marketRepo, positionRepo, logger)
	marketSvc := service.NewMarketService(marketRepo, marketCache)

	// ── 7. WebSocket hub ──────────────────────────────────────────────────────
	hub := ws.NewHub(cfg.Server.AllowedOrigins, logger)

	ledgerSvc.SetBroadcaster(hub)
	resolutionSvc.SetBroadcaster(hub)
	if marketCache != nil {
		ledgerSvc.SetInvalidator(marketCache)
		resolutionSvc.SetInvalidator(marketCache)
	}

	// ── 8. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run()
	logger.Info("websocket hub started")

	// ── 9. Reconciler ─────────────────────────────────────────────────────────
	gateway := reconciler.NewGatewayClient(cfg.Chain.GatewayURL, cfg.Chain.FetchTimeout)
	rec := reconciler.New(gateway, ledgerSvc, resolutionSvc, syncRepo, reconciler.Options{
		PollInterval:  cfg.Chain.PollInterval,
		BatchSlots:    cfg.Chain.BatchSlots,
		ReplayTimeout: cfg.Chain.ReplayTimeout,
	}, logger)
	go rec.Run(ctx)
	logger.Info("chain reconciler started", "gateway", cfg.Chain.GatewayURL)

	// ── 10. Cron: dead-letter retry ───────────────────────────────────────────
	runner := cronrunner.New(logger, ctx)
	if _, err = runner.Add(cfg.Chain.RetryCron, "dead-letter-retry", func(jobCtx context.Context) {
		if _, _, retryErr := rec.RetryFailed(jobCtx, 0); retryErr != nil {
			logger.Error("dead-letter retry failed", "err", retryErr)
		}
	}); err != nil {
		logger.Error("cron registration failed", "err", err)
		os.Exit(1)
	}
	runner.Start()

	// ── 11. HTTP router + server ──────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		LedgerSvc: ledgerSvc,
		MarketSvc: marketSvc,
		Hub:       hub,
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	runner.Stop()

	db.Close()
	logger.Info("server stopped cleanly")
}

// buildLogger constructs the slog logger from the log section of the config.
func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially.  Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
