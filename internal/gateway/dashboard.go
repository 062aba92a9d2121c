package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cartmesh/cartmesh/internal/httpx"
	"github.com/cartmesh/cartmesh/internal/registry"
)

// Dashboard aggregates per-service stats into a single overview payload.
// Sections are fetched concurrently and a section whose service is down is
// reported as unavailable instead of failing the whole response.
type Dashboard struct {
	registry *registry.Registry
	logger   *slog.Logger
	client   *http.Client
}

// NewDashboard creates the aggregation handler.
func NewDashboard(reg *registry.Registry, logger *slog.Logger) *Dashboard {
	return &Dashboard{
		registry: reg,
		logger:   logger,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type statsSource struct {
	section string
	service string
	path    string
}

var statsSources = []statsSource{
	{section: "users", service: "users", path: "/users/stats"},
	{section: "items", service: "items", path: "/items/stats"},
	{section: "lists", service: "lists", path: "/lists/stats"},
}

type dashboardView struct {
	GeneratedAt time.Time                  `json:"generatedAt"`
	Sections    map[string]json.RawMessage `json:"sections"`
	Unavailable []string                   `json:"unavailable,omitempty"`
}

func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	view := dashboardView{
		GeneratedAt: time.Now().UTC(),
		Sections:    make(map[string]json.RawMessage, len(statsSources)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, src := range statsSources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := d.fetch(r.Context(), src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("dashboard section unavailable", "section", src.section, "error", err)
				view.Unavailable = append(view.Unavailable, src.section)
				return
			}
			view.Sections[src.section] = stats
		}()
	}
	wg.Wait()

	sort.Strings(view.Unavailable)
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (d *Dashboard) fetch(ctx context.Context, src statsSource) (json.RawMessage, error) {
	desc, err := d.registry.Discover(src.service)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Address+src.path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("stats endpoint returned invalid JSON")
	}
	return json.RawMessage(body), nil
}
