// Package healthmonitor periodically probes registered services and keeps
// the registry's health flags current. Health is advisory: routing never
// consults it, but the ops surface and dashboard expose it.
package healthmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cartmesh/cartmesh/internal/registry"
)

// Config controls probe cadence and timeouts.
type Config struct {
	Interval     time.Duration // time between probe sweeps
	WarmupDelay  time.Duration // delay before the first sweep
	ProbeTimeout time.Duration // per-probe HTTP timeout
}

// DefaultConfig returns the standard probe cadence.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		WarmupDelay:  3 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Monitor probes every registered service's health endpoint and records the
// result on the registry.
type Monitor struct {
	registry *registry.Registry
	config   Config
	logger   *slog.Logger
	client   *http.Client
}

// NewMonitor creates a health monitor over the given registry.
func NewMonitor(reg *registry.Registry, config Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry: reg,
		config:   config,
		logger:   logger,
		client:   &http.Client{Timeout: config.ProbeTimeout},
	}
}

// Run starts the probe loop: one warm-up sweep shortly after startup so
// fresh registrations are validated quickly, then a sweep per interval.
// Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor starting",
		"interval", m.config.Interval,
		"warmup_delay", m.config.WarmupDelay,
		"probe_timeout", m.config.ProbeTimeout,
	)

	select {
	case <-ctx.Done():
		return
	case <-time.After(m.config.WarmupDelay):
		m.Sweep(ctx)
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopping")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every registered service concurrently, so one slow service
// cannot delay the rest, and updates the registry with the results.
func (m *Monitor) Sweep(ctx context.Context) {
	var wg sync.WaitGroup
	for name, desc := range m.registry.Services() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			healthy, detail := m.probe(ctx, desc.Address)
			if healthy != desc.Healthy {
				m.logger.Info("service health changed",
					"service", name,
					"healthy", healthy,
					"detail", detail,
				)
			}
			m.registry.UpdateHealth(name, healthy)
		}()
	}
	wg.Wait()
}

// probe requests the service's health endpoint; any 2xx counts as healthy.
func (m *Monitor) probe(ctx context.Context, address string) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, address+"/health", nil)
	if err != nil {
		return false, fmt.Sprintf("request error: %v", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("probe failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}
