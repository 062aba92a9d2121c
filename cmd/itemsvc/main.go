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

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/items"
	"github.com/cartmesh/cartmesh/internal/messaging"
	"github.com/cartmesh/cartmesh/internal/registry"
	"github.com/cartmesh/cartmesh/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	port := envOr("ITEMSVC_PORT", "8102")
	dataFile := envOr("ITEMSVC_DATA_FILE", "items.db")
	gatewayURL := envOr("GATEWAY_URL", "http://localhost:8080")
	advertise := envOr("ITEMSVC_ADVERTISE_URL", "http://localhost:"+port)
	secret := envOr("TOKEN_SECRET", "cartmesh-dev-secret")
	issuer := envOr("TOKEN_ISSUER", "cartmesh")

	// Empty URL runs the publisher in no-op mode for broker-less dev.
	brokerURL := os.Getenv("RABBITMQ_URL")

	st, err := store.Open(dataFile, items.Collections()...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	publisher := messaging.NewPublisher(brokerURL, logger)
	defer publisher.Close()

	tokens := auth.NewTokens(secret, issuer, 24*time.Hour)
	svc := items.NewService(st, tokens, publisher, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := registry.NewClient(gatewayURL, "items", advertise, logger)
	go client.Register(ctx)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: svc.Handler(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down items service")

		unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client.Unregister(unregCtx)
		cancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("items service starting", "port", port, "data_file", dataFile)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
