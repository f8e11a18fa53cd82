package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedback-insights/internal/api"
	"feedback-insights/internal/app"
	"feedback-insights/internal/config"
	"feedback-insights/internal/services/updates"
	"feedback-insights/internal/telemetry"
)

const version = "1.0.0"

func main() {
	log.Println("🚀 Starting feedback insights service...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing goes first so startup work is traced too.
	jaegerShutdown, err := telemetry.InitJaeger("feedback-insights", version, cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize: %v", err)
	}
	defer application.Close()

	// Subscribers of /ws/updates receive every invalidation the bus sees.
	hub := updates.NewHub()
	hub.Start()
	application.Bus.Subscribe(hub)

	if err := application.Listen(); err != nil {
		log.Fatalf("❌ Failed to listen for invalidations: %v", err)
	}
	listenCtx, stopListening := context.WithCancel(context.Background())
	listenerDone := make(chan struct{})
	go func() {
		defer close(listenerDone)
		application.RunListener(listenCtx)
	}()

	if err := application.Processor.Start(); err != nil {
		log.Fatalf("❌ Failed to start document processor: %v", err)
	}

	handler := api.NewHandler(
		application.Documents,
		application.Processor,
		application.Resolver,
		application.Queries,
		application.Unlinker,
		application.Events,
		updates.NewWebSocketHandler(hub),
		cfg.AIAllowed,
	)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("   insight max distance %.2f, %d workers", application.Resolver.MaxDistance(), cfg.ProcessingWorkers)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// In-flight jobs finish; queued ones are marked failed for reprocessing.
	application.Processor.Shutdown()

	stopListening()
	<-listenerDone

	hub.Shutdown()

	log.Println("✓ Server shutdown complete")
}
