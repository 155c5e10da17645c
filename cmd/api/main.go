package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/ridesync/internal/api"
	"example.com/ridesync/internal/app"
	"example.com/ridesync/internal/config"
	"example.com/ridesync/internal/outbox"
	"example.com/ridesync/internal/platform/auth"
	httptransport "example.com/ridesync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build sync engine: %v", err)
	}
	defer engine.Close()

	refreshSweep := engine.NewScheduler(cfg)
	go refreshSweep.Start(ctx)

	var dispatcher *outbox.Dispatcher
	if engine.Pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(engine.Pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	handler := api.NewHandler(engine.Orchestrator, engine.Storage, engine.Recalculator, engine.Registry)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	requestLog := log.New(log.Writer(), "[http] ", log.LstdFlags)

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		authMiddleware.Wrap(httptransport.RequestLogger(requestLog, mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("ridesync api listening on %s (storage=%s)", cfg.HTTPAddress, cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("background syncs did not stop in time: %v", err)
	}
	cancel()

	refreshSweep.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
