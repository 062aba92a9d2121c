package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/cartmesh/cartmesh/internal/registry"
)

func statsBackend(t *testing.T, path, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			t.Errorf("expected stats path %s, got %s", path, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, payload)
	}))
}

func TestDashboard_AggregatesAllSections(t *testing.T) {
	users := statsBackend(t, "/users/stats", `{"totalUsers":3}`)
	defer users.Close()
	items := statsBackend(t, "/items/stats", `{"totalItems":12}`)
	defer items.Close()
	lists := statsBackend(t, "/lists/stats", `{"totalLists":4,"completedLists":1}`)
	defer lists.Close()

	logger := testLogger()
	reg := registry.New(logger)
	reg.Register("users", users.URL)
	reg.Register("items", items.URL)
	reg.Register("lists", lists.URL)

	dash := NewDashboard(reg, logger)

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	w := httptest.NewRecorder()
	dash.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var view dashboardView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Unavailable) != 0 {
		t.Fatalf("expected no unavailable sections, got %v", view.Unavailable)
	}
	for _, section := range []string{"users", "items", "lists"} {
		if _, ok := view.Sections[section]; !ok {
			t.Fatalf("expected section %q, got %v", section, view.Sections)
		}
	}

	var itemStats struct {
		TotalItems int `json:"totalItems"`
	}
	if err := json.Unmarshal(view.Sections["items"], &itemStats); err != nil {
		t.Fatalf("decode items section: %v", err)
	}
	if itemStats.TotalItems != 12 {
		t.Fatalf("expected totalItems 12, got %d", itemStats.TotalItems)
	}
}

func TestDashboard_ToleratesDownSection(t *testing.T) {
	users := statsBackend(t, "/users/stats", `{"totalUsers":3}`)
	defer users.Close()
	lists := statsBackend(t, "/lists/stats", `{"totalLists":4}`)
	defer lists.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	logger := testLogger()
	reg := registry.New(logger)
	reg.Register("users", users.URL)
	reg.Register("items", deadURL)
	reg.Register("lists", lists.URL)

	dash := NewDashboard(reg, logger)

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	w := httptest.NewRecorder()
	dash.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite a down section, got %d", w.Code)
	}

	var view dashboardView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !slices.Contains(view.Unavailable, "items") {
		t.Fatalf("expected items marked unavailable, got %v", view.Unavailable)
	}
	if _, ok := view.Sections["users"]; !ok {
		t.Fatal("expected users section despite items being down")
	}
	if _, ok := view.Sections["lists"]; !ok {
		t.Fatal("expected lists section despite items being down")
	}
}

func TestDashboard_UnregisteredServiceIsUnavailable(t *testing.T) {
	logger := testLogger()
	reg := registry.New(logger)

	dash := NewDashboard(reg, logger)

	req := httptest.NewRequest("GET", "/api/dashboard", nil)
	w := httptest.NewRecorder()
	dash.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var view dashboardView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(view.Unavailable) != 3 {
		t.Fatalf("expected all sections unavailable, got %v", view.Unavailable)
	}
}
