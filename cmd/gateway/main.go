package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/breaker"
	"github.com/cartmesh/cartmesh/internal/gateway"
	"github.com/cartmesh/cartmesh/internal/healthmonitor"
	"github.com/cartmesh/cartmesh/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := loadConfig()

	reg := registry.New(logger)
	breakers := breaker.NewGroup(cfg.Forward.FailureThreshold, cfg.Forward.Cooldown)
	metrics := gateway.NewMetrics()
	tokens := auth.NewTokens(cfg.TokenSecret, cfg.TokenIssuer, 24*time.Hour)

	routes := gateway.NewRouteTable(cfg.Routes)
	proxy := gateway.NewProxy(routes, reg, breakers, cfg.Forward, metrics, logger)
	ops := gateway.NewOps(reg, breakers, logger)
	dashboard := gateway.NewDashboard(reg, logger)
	search := gateway.NewSearch(proxy)
	monitor := healthmonitor.NewMonitor(reg, cfg.Health, logger)

	// Static seeds cover local setups where services start before the
	// gateway or skip self-registration.
	for name, address := range cfg.SeedServices {
		reg.Register(name, address)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go monitor.Run(ctx)

	mux := http.NewServeMux()

	// Ops surface.
	mux.HandleFunc("GET /health", ops.Health)
	mux.HandleFunc("GET /registry", ops.ListRegistry)
	mux.HandleFunc("POST /registry", ops.RegisterService)
	mux.HandleFunc("DELETE /registry/{name}", ops.UnregisterService)
	mux.Handle("GET /metrics", metrics.Handler())

	// Aggregation endpoints.
	mux.Handle("GET /api/dashboard", dashboard)
	mux.Handle("GET /api/search", search)

	// Everything else goes through the proxy's route table.
	mux.Handle("/", proxy)

	// Compose middleware, outermost first.
	var handler http.Handler = mux
	handler = gateway.BearerAuth(tokens, gateway.AuthSkipPrefixes())(handler)
	if cfg.RateLimit.Enabled {
		handler = gateway.NewRateLimiter(cfg.RateLimit).Middleware(handler)
	}
	handler = gateway.CORS(cfg.CORS)(handler)
	handler = gateway.RequestLogging(logger, handler)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway starting",
		"port", cfg.Port,
		"routes", len(cfg.Routes),
		"breaker_threshold", cfg.Forward.FailureThreshold,
		"breaker_cooldown", cfg.Forward.Cooldown,
	)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

type config struct {
	gateway.Config
	Health healthmonitor.Config
}

func loadConfig() config {
	cfg := config{
		Config: gateway.DefaultConfig(),
		Health: healthmonitor.DefaultConfig(),
	}

	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("TOKEN_SECRET"); v != "" {
		cfg.TokenSecret = v
	}
	if v := os.Getenv("TOKEN_ISSUER"); v != "" {
		cfg.TokenIssuer = v
	}

	// Forwarding and breakers.
	if v, err := strconv.Atoi(os.Getenv("GATEWAY_FORWARD_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.Forward.Timeout = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("GATEWAY_BREAKER_THRESHOLD")); err == nil && v > 0 {
		cfg.Forward.FailureThreshold = v
	}
	if v, err := strconv.Atoi(os.Getenv("GATEWAY_BREAKER_COOLDOWN_SECONDS")); err == nil && v > 0 {
		cfg.Forward.Cooldown = time.Duration(v) * time.Second
	}

	// Health probing.
	if v, err := strconv.Atoi(os.Getenv("HEALTH_INTERVAL_SECONDS")); err == nil && v > 0 {
		cfg.Health.Interval = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("HEALTH_PROBE_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.Health.ProbeTimeout = time.Duration(v) * time.Second
	}

	// Rate limit.
	if os.Getenv("GATEWAY_RATE_LIMIT_ENABLED") == "false" {
		cfg.RateLimit.Enabled = false
	}
	if v, err := strconv.ParseFloat(os.Getenv("GATEWAY_RATE_LIMIT_RPS"), 64); err == nil && v > 0 {
		cfg.RateLimit.RequestsPerSecond = v
	}
	if v, err := strconv.Atoi(os.Getenv("GATEWAY_RATE_LIMIT_BURST")); err == nil && v > 0 {
		cfg.RateLimit.Burst = v
	}

	// CORS.
	if os.Getenv("GATEWAY_CORS_ALLOW_ANY_ORIGIN") == "false" {
		cfg.CORS.AllowAnyOrigin = false
	}
	if v := os.Getenv("GATEWAY_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitComma(v)
	}

	// Pre-registered backends: "users=http://10.0.0.5:8101,items=...".
	if v := os.Getenv("GATEWAY_SEED_SERVICES"); v != "" {
		cfg.SeedServices = make(map[string]string)
		for _, pair := range splitComma(v) {
			name, address, ok := strings.Cut(pair, "=")
			if ok && name != "" && address != "" {
				cfg.SeedServices[name] = address
			}
		}
	}

	return cfg
}

func splitComma(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
