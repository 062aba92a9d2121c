package healthmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/cartmesh/cartmesh/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestMonitor_SweepRecordsHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("expected /health probe, got %s", r.URL.Path)
		}
		fmt.Fprintln(w, `{"status":"ok"}`)
	}))
	defer healthy.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	reg := registry.New(testLogger())
	reg.Register("users", healthy.URL)
	reg.Register("items", deadURL)

	m := NewMonitor(reg, DefaultConfig(), testLogger())
	m.Sweep(context.Background())

	services := reg.Services()
	if !services["users"].Healthy {
		t.Fatal("expected users healthy after sweep")
	}
	if services["items"].Healthy {
		t.Fatal("expected items unhealthy after sweep")
	}
	if services["items"].LastCheckedAt.IsZero() {
		t.Fatal("expected items check timestamp to be set")
	}
}

func TestMonitor_NonOKStatusIsUnhealthy(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	reg := registry.New(testLogger())
	reg.Register("lists", failing.URL)

	m := NewMonitor(reg, DefaultConfig(), testLogger())
	m.Sweep(context.Background())

	if reg.Services()["lists"].Healthy {
		t.Fatal("expected 500 response to mark service unhealthy")
	}
}

func TestMonitor_SlowProbeTimesOut(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer slow.Close()

	reg := registry.New(testLogger())
	reg.Register("users", slow.URL)

	cfg := DefaultConfig()
	cfg.ProbeTimeout = 50 * time.Millisecond
	m := NewMonitor(reg, cfg, testLogger())

	start := time.Now()
	m.Sweep(context.Background())

	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Fatalf("expected sweep to respect probe timeout, took %v", elapsed)
	}
	if reg.Services()["users"].Healthy {
		t.Fatal("expected timed-out probe to mark service unhealthy")
	}
}

func TestMonitor_UnhealthyServiceStaysRegistered(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	reg := registry.New(testLogger())
	reg.Register("items", deadURL)

	m := NewMonitor(reg, DefaultConfig(), testLogger())
	m.Sweep(context.Background())

	desc, err := reg.Discover("items")
	if err != nil {
		t.Fatalf("expected unhealthy service to remain discoverable: %v", err)
	}
	if desc.Healthy {
		t.Fatal("expected service marked unhealthy")
	}
}

func TestMonitor_RunsWarmupSweepBeforeInterval(t *testing.T) {
	probed := make(chan struct{}, 1)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case probed <- struct{}{}:
		default:
		}
	}))
	defer backend.Close()

	reg := registry.New(testLogger())
	reg.Register("users", backend.URL)

	cfg := Config{
		Interval:     time.Hour, // only the warm-up sweep can fire in this test
		WarmupDelay:  10 * time.Millisecond,
		ProbeTimeout: time.Second,
	}
	m := NewMonitor(reg, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-probed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected warm-up sweep shortly after start")
	}

	// The registry update lands just after the probe returns.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Services()["users"].Healthy {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected warm-up sweep to mark service healthy")
}
