// Package main is the entry point for the kmarket back-office admin server.
// Runs on its own port behind an IP allow-list and exposes market lifecycle,
// resolution, and reconciler dead-letter endpoints protected by JWT RBAC.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kmarket/settlement/internal/backoffice"
	"github.com/kmarket/settlement/internal/config"
	"github.com/kmarket/settlement/internal/reconciler"
	"github.com/kmarket/settlement/internal/repository"
	"github.com/kmarket/settlement/internal/service"
	_ "github.com/lib/pq"
)

func main() {
	// ── Config + logger ───────────────────────────────────────────────────────
	cfg, err := config.Load(os.Getenv("KMARKET_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	var logHandler slog.Handler
	if cfg.Log.Format == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting kmarket backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// ── Database ──────────────────────────────────────────────────────────────
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

	// ── Repositories ──────────────────────────────────────────────────────────
	adminRepo := repository.NewAdminRepository(db)
	marketRepo := repository.NewMarketRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	syncRepo := repository.NewSyncRepository(db)

	// ── Services ──────────────────────────────────────────────────────────────
	authSvc := service.NewAuthService(adminRepo, cfg)
	marketSvc := service.NewMarketService(marketRepo, nil)
	ledgerSvc := service.NewLedgerService(db, positionRepo, marketRepo, cfg, logger)
	resolutionSvc := service.NewResolutionService(db, marketRepo, positionRepo, logger)

	// Reconciler here only drives explicit dead-letter retries; the poll loop
	// runs in the API server, not the back office.
	gateway := reconciler.NewGatewayClient(cfg.Chain.GatewayURL, cfg.Chain.FetchTimeout)
	rec := reconciler.New(gateway, ledgerSvc, resolutionSvc, syncRepo, reconciler.Options{
		BatchSlots:    cfg.Chain.BatchSlots,
		ReplayTimeout: cfg.Chain.ReplayTimeout,
	}, logger)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		AuthSvc:       authSvc,
		MarketSvc:     marketSvc,
		ResolutionSvc: resolutionSvc,
		MarketRepo:    marketRepo,
		PositionRepo:  positionRepo,
		SyncRepo:      syncRepo,
		Reconciler:    rec,
		Hub:           nil, // backoffice does not serve WS
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}

	db.Close()
	logger.Info("backoffice server stopped cleanly")
}
