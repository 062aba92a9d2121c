package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestRegistry_DiscoverUnknownFails(t *testing.T) {
	r := New(testLogger())
	r.Register("items", "http://localhost:8102")

	_, err := r.Discover("ghosts")
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	// Registered names are unaffected.
	if _, err := r.Discover("items"); err != nil {
		t.Fatalf("expected items to resolve, got %v", err)
	}
}

func TestRegistry_RegisterIsLastWriteWins(t *testing.T) {
	r := New(testLogger())
	r.Register("lists", "http://old:1")
	r.Register("lists", "http://new:2")

	desc, err := r.Discover("lists")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if desc.Address != "http://new:2" {
		t.Fatalf("expected last write to win, got address %q", desc.Address)
	}
	if !desc.Healthy {
		t.Fatal("fresh registration should start healthy")
	}
}

func TestRegistry_UnregisterRemovesEntry(t *testing.T) {
	r := New(testLogger())
	r.Register("users", "http://localhost:8101")
	r.Unregister("users")

	if _, err := r.Discover("users"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound after unregister, got %v", err)
	}

	// Unregistering an absent name is a no-op.
	r.Unregister("users")
}

func TestRegistry_UpdateHealthMutatesOnlyHealthFields(t *testing.T) {
	r := New(testLogger())

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.Register("items", "http://localhost:8102")

	checked := base.Add(30 * time.Second)
	r.now = func() time.Time { return checked }
	r.UpdateHealth("items", false)

	desc, err := r.Discover("items")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if desc.Healthy {
		t.Fatal("expected unhealthy after UpdateHealth(false)")
	}
	if !desc.LastCheckedAt.Equal(checked) {
		t.Fatalf("expected check timestamp %v, got %v", checked, desc.LastCheckedAt)
	}
	if !desc.RegisteredAt.Equal(base) {
		t.Fatalf("registration timestamp must not move, got %v", desc.RegisteredAt)
	}
	if desc.Address != "http://localhost:8102" {
		t.Fatalf("address must not change, got %q", desc.Address)
	}

	// Unknown name: logged no-op, no panic, no entry created.
	r.UpdateHealth("phantom", true)
	if _, err := r.Discover("phantom"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatal("UpdateHealth must not create entries")
	}
}

func TestRegistry_ServicesReturnsSnapshot(t *testing.T) {
	r := New(testLogger())
	r.Register("users", "http://localhost:8101")
	r.Register("items", "http://localhost:8102")

	snap := r.Services()
	if len(snap) != 2 {
		t.Fatalf("expected 2 services, got %d", len(snap))
	}

	// Mutating the snapshot must not leak back into the registry.
	entry := snap["users"]
	entry.Address = "http://tampered:9"
	snap["users"] = entry

	desc, _ := r.Discover("users")
	if desc.Address != "http://localhost:8101" {
		t.Fatalf("snapshot mutation leaked into registry: %q", desc.Address)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(testLogger())

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(3)
		name := fmt.Sprintf("svc-%d", i%5)
		go func() {
			defer wg.Done()
			r.Register(name, "http://localhost:9000")
		}()
		go func() {
			defer wg.Done()
			r.UpdateHealth(name, i%2 == 0)
		}()
		go func() {
			defer wg.Done()
			if desc, err := r.Discover(name); err == nil && desc.Name != name {
				t.Errorf("torn read: descriptor name %q for key %q", desc.Name, name)
			}
			r.Services()
		}()
	}
	wg.Wait()
}

func TestClient_RegisterRetriesUntilGatewayAnswers(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	var got Registration

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Errorf("decode registration: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "lists", "http://localhost:8103", testLogger())
	c.retryDelay = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if got.Name != "lists" || got.Address != "http://localhost:8103" {
		t.Fatalf("unexpected registration body: %+v", got)
	}
}

func TestClient_UnregisterTargetsNamedEntry(t *testing.T) {
	var gotMethod, gotPath string

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotMethod = req.Method
		gotPath = req.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "items", "http://localhost:8102", testLogger())
	c.Unregister(context.Background())

	if gotMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", gotMethod)
	}
	if gotPath != "/registry/items" {
		t.Fatalf("expected /registry/items, got %s", gotPath)
	}
}
