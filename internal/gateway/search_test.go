package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearch_RequiresQuery(t *testing.T) {
	proxy, _, _ := newTestProxy(t, defaultForward())
	search := NewSearch(proxy)

	req := httptest.NewRequest("GET", "/api/search", nil)
	w := httptest.NewRecorder()
	search.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", w.Code)
	}
}

func TestSearch_ForwardsToItemsService(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/items/search" {
			t.Errorf("expected /items/search, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "milk" {
			t.Errorf("expected q=milk, got %q", got)
		}
		io.WriteString(w, `[{"id":"1","name":"Milk"}]`)
	}))
	defer backend.Close()

	proxy, reg, _ := newTestProxy(t, defaultForward())
	reg.Register("items", backend.URL)
	search := NewSearch(proxy)

	req := httptest.NewRequest("GET", "/api/search?q=milk", nil)
	w := httptest.NewRecorder()
	search.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Milk") {
		t.Fatalf("expected search results relayed, got %q", w.Body.String())
	}
}

func TestSearch_ReportsItemsUnavailable(t *testing.T) {
	proxy, _, _ := newTestProxy(t, defaultForward())
	search := NewSearch(proxy)

	req := httptest.NewRequest("GET", "/api/search?q=milk", nil)
	w := httptest.NewRecorder()
	search.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when items is down, got %d", w.Code)
	}
}
