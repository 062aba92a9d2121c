package gateway

import (
	"testing"
)

func TestRouteTable_Match(t *testing.T) {
	rt := NewRouteTable(DefaultRoutes())

	tests := []struct {
		path          string
		wantService   string
		wantRemainder string
		wantOK        bool
	}{
		{"/api/lists/abc/items", "lists", "/abc/items", true},
		{"/api/lists", "lists", "", true},
		{"/api/lists/", "lists", "/", true},
		{"/api/items/42", "items", "/42", true},
		{"/api/users/42", "users", "/42", true},
		{"/api/auth/login", "users", "/login", true},
		{"/api/list", "", "", false},
		{"/api/listsextra", "", "", false},
		{"/api", "", "", false},
		{"/other/path", "", "", false},
	}

	for _, tt := range tests {
		route, remainder, ok := rt.Match(tt.path)
		if ok != tt.wantOK {
			t.Errorf("Match(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if route.Service != tt.wantService {
			t.Errorf("Match(%q) service = %q, want %q", tt.path, route.Service, tt.wantService)
		}
		if remainder != tt.wantRemainder {
			t.Errorf("Match(%q) remainder = %q, want %q", tt.path, remainder, tt.wantRemainder)
		}
	}
}

func TestRouteTable_LongestPrefixWins(t *testing.T) {
	rt := NewRouteTable([]Route{
		{Prefix: "/api", Service: "catchall", Target: "/"},
		{Prefix: "/api/items", Service: "items", Target: "/items"},
	})

	route, _, ok := rt.Match("/api/items/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if route.Service != "items" {
		t.Fatalf("expected longest prefix to win, got service %q", route.Service)
	}
}

func TestRoute_Rewrite(t *testing.T) {
	tests := []struct {
		target    string
		remainder string
		want      string
	}{
		{"/lists", "/abc/checkout", "/lists/abc/checkout"},
		{"/lists", "", "/lists"},
		{"/lists", "/", "/lists/"},
		{"/auth", "/login", "/auth/login"},
	}

	for _, tt := range tests {
		route := Route{Prefix: "/api/x", Service: "x", Target: tt.target}
		if got := route.Rewrite(tt.remainder); got != tt.want {
			t.Errorf("Rewrite(%q) with target %q = %q, want %q", tt.remainder, tt.target, got, tt.want)
		}
	}
}

func TestRouteTable_Services(t *testing.T) {
	rt := NewRouteTable(DefaultRoutes())

	got := rt.Services()
	want := []string{"items", "lists", "users"}
	if len(got) != len(want) {
		t.Fatalf("expected %d services, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected services %v, got %v", want, got)
		}
	}
}

func TestBuildBackendURL(t *testing.T) {
	tests := []struct {
		addr     string
		path     string
		rawQuery string
		want     string
	}{
		{"http://10.0.0.5:8102", "/items/42", "", "http://10.0.0.5:8102/items/42"},
		{"http://10.0.0.5:8102", "/items", "q=milk", "http://10.0.0.5:8102/items?q=milk"},
		{"http://localhost:8103", "/lists", "", "http://localhost:8103/lists"},
	}

	for _, tt := range tests {
		if got := BuildBackendURL(tt.addr, tt.path, tt.rawQuery); got != tt.want {
			t.Errorf("BuildBackendURL(%q, %q, %q) = %q, want %q", tt.addr, tt.path, tt.rawQuery, got, tt.want)
		}
	}
}
