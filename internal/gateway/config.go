// Package gateway implements the cartmesh API gateway: a reverse proxy over
// the in-process service registry, guarded by per-service circuit breakers,
// with rate limiting, CORS, bearer auth, aggregation, and an ops surface.
package gateway

import "time"

// Config holds all gateway runtime configuration.
type Config struct {
	Port        string
	TokenSecret string
	TokenIssuer string

	// SeedServices maps service names to addresses registered at startup,
	// before any service has announced itself. Primarily for local dev.
	SeedServices map[string]string

	Routes    []Route
	Forward   ForwardConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ForwardConfig controls proxy forwarding and the per-service breakers.
type ForwardConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// RateLimitConfig controls per-client-IP token bucket rate limiting.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	AllowAnyOrigin bool
	AllowedOrigins []string
	AllowedHeaders []string
	AllowedMethods []string
}

// DefaultConfig returns the local-development defaults.
func DefaultConfig() Config {
	return Config{
		Port:        "8080",
		TokenSecret: "cartmesh-dev-secret",
		TokenIssuer: "cartmesh",
		Routes:      DefaultRoutes(),
		Forward: ForwardConfig{
			Timeout:          10 * time.Second,
			FailureThreshold: 3,
			Cooldown:         300 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		CORS: CORSConfig{
			AllowAnyOrigin: true,
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		},
	}
}

// DefaultRoutes is the static gateway-facing to service-facing prefix table.
func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/auth", Service: "users", Target: "/auth"},
		{Prefix: "/api/users", Service: "users", Target: "/users"},
		{Prefix: "/api/items", Service: "items", Target: "/items"},
		{Prefix: "/api/lists", Service: "lists", Target: "/lists"},
	}
}

// AuthSkipPrefixes are gateway paths served without a bearer token: the ops
// surface and the login/registration endpoints that issue tokens.
func AuthSkipPrefixes() []string {
	return []string{"/health", "/registry", "/metrics", "/api/auth/"}
}
