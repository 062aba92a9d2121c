package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cartmesh/cartmesh/internal/breaker"
	"github.com/cartmesh/cartmesh/internal/httpx"
	"github.com/cartmesh/cartmesh/internal/registry"
)

// Ops serves the gateway's operational endpoints: liveness, service
// registration, and registry plus breaker introspection.
type Ops struct {
	registry *registry.Registry
	breakers *breaker.Group
	logger   *slog.Logger
}

// NewOps creates the ops handler set.
func NewOps(reg *registry.Registry, breakers *breaker.Group, logger *slog.Logger) *Ops {
	return &Ops{registry: reg, breakers: breakers, logger: logger}
}

// Health reports gateway liveness.
func (o *Ops) Health(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// registryView is the introspection payload for GET /registry.
type registryView struct {
	Services map[string]registry.ServiceDescriptor `json:"services"`
	Breakers map[string]breaker.State              `json:"breakers"`
}

// ListRegistry returns every known service and the breaker state guarding it.
func (o *Ops) ListRegistry(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, registryView{
		Services: o.registry.Services(),
		Breakers: o.breakers.Snapshot(),
	})
}

// RegisterService handles a service announcing itself. Loopback or
// unspecified hosts in the announced address are replaced with the caller's
// IP so an address that was only valid inside the service's own container
// still routes.
func (o *Ops) RegisterService(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid registration body")
		return
	}
	if reg.Name == "" || reg.Address == "" {
		httpx.WriteError(w, http.StatusBadRequest, "name and address are required")
		return
	}

	addr, err := resolveAddress(reg.Address, r.RemoteAddr)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid address: "+err.Error())
		return
	}

	o.registry.Register(reg.Name, addr)
	httpx.WriteJSON(w, http.StatusCreated, registry.Registration{Name: reg.Name, Address: addr})
}

// UnregisterService removes a service from the registry.
func (o *Ops) UnregisterService(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		httpx.WriteError(w, http.StatusBadRequest, "service name is required")
		return
	}
	o.registry.Unregister(name)
	w.WriteHeader(http.StatusNoContent)
}

// resolveAddress replaces loopback or unspecified hosts in the announced
// URL with the caller's IP when that IP is routable.
func resolveAddress(requested, callerRemoteAddr string) (string, error) {
	u, err := url.Parse(requested)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("address must be a full URL, got %q", requested)
	}

	if isRoutable(u.Hostname()) {
		return requested, nil
	}

	callerHost, _, err := net.SplitHostPort(callerRemoteAddr)
	if err != nil || !isRoutable(callerHost) {
		return requested, nil
	}

	host := callerHost
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := u.Port(); port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	return u.String(), nil
}

func isRoutable(addr string) bool {
	if addr == "" || addr == "0.0.0.0" || addr == "::" {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return true // hostname, assume routable
	}
	return !ip.IsLoopback() && !ip.IsUnspecified()
}
