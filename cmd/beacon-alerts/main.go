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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/thebeacon-app/beacon-alerts/internal/api"
	"github.com/thebeacon-app/beacon-alerts/internal/config"
	"github.com/thebeacon-app/beacon-alerts/internal/logging"
	"github.com/thebeacon-app/beacon-alerts/internal/notify"
	"github.com/thebeacon-app/beacon-alerts/internal/orchestrator"
	"github.com/thebeacon-app/beacon-alerts/internal/source"
	"github.com/thebeacon-app/beacon-alerts/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := store.NewSQLite(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscription registry and push transport are owned by sibling
	// services; the webhook transport talks to the push gateway.
	registry := notify.NewStaticRegistry(nil)
	transport := notify.NewWebhookTransport(&http.Client{Timeout: cfg.Notify.DeliveryTimeout})

	dispatcher := notify.NewDispatcher(registry, db, transport,
		cfg.Notify.Workers, cfg.Notify.BufferSize, cfg.Notify.DeliveryTimeout)
	dispatcher.Start()

	adapters := source.Registry(cfg.Sources)
	orch := orchestrator.New(orchestrator.Config{
		Interval:       cfg.Scrape.Interval,
		AdapterTimeout: cfg.Scrape.AdapterTimeout,
		SearchDeadline: cfg.Scrape.SearchDeadline,
	}, adapters, db, dispatcher)
	orch.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "X-Admin-Token", "X-User-City", "X-User-State"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(10)) // 10 req/s global limit

	handler := api.NewHandler(db, orch, cfg.Admin.Token)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop taking requests before tearing down the pipeline: handlers can
	// trigger cycles, and cycles submit deliveries.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	orch.Stop()
	dispatcher.Stop()

	slog.Info("shutdown complete")
}
