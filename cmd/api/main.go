package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kislikjeka/pocketflow/internal/app"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/handler"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/pocketflow/pkg/config"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("starting pocketflow API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.Store,
	)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Initialize HTTP handlers
	jwtSvc := middleware.NewJWTService(cfg.JWTSecret)

	var cachePing handler.Pinger
	if a.Redis != nil {
		cachePing = handler.PingFunc(func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}

	r := httpapi.NewRouter(httpapi.Config{
		Logger:             log,
		AllowedOrigins:     cfg.AllowedOrigins,
		RelaySecretHash:    cfg.RelaySecretHash,
		IngestHandler:      handler.NewIngestHandler(a.Ingest, a.Ingest.Registry(), cfg.WebhookSecrets, !cfg.IsProduction(), log),
		SyncHandler:        handler.NewSyncHandler(a.Sync),
		AdminHandler:       handler.NewAdminHandler(a.Admin),
		TransactionHandler: handler.NewTransactionHandler(a.Ledger, a.Pockets),
		HealthHandler:      handler.NewHealthHandler(handler.PingFunc(a.Store.Ping), cachePing),
		JWTMiddleware:      middleware.JWTMiddleware(jwtSvc),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // manual syncs and replays run inline
		IdleTimeout:  60 * time.Second,
	}

	// Start background loops
	go a.Dispatcher.Run(ctx)
	log.Info("notification dispatcher started")

	go a.Sync.Run(ctx)
	log.Info("sync poller started", "poll_interval", cfg.SyncPollInterval, "providers", a.Sync.Providers())

	// Start server in a goroutine
	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}

	a.Sync.Stop()
	a.Dispatcher.Stop()

	log.Info("server stopped gracefully")
}
