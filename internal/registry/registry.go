// Package registry implements the in-process service directory that maps
// logical service names to network locations and tracks their health.
package registry

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrServiceNotFound is returned by Discover for names that were never
// registered or have been unregistered.
var ErrServiceNotFound = errors.New("service not found in registry")

// ServiceDescriptor is the registry's record for a single backend service.
// The gateway ops surface and the registration client exchange it as JSON.
type ServiceDescriptor struct {
	Name          string    `json:"name"`
	Address       string    `json:"address"` // base URL: scheme://host:port
	Healthy       bool      `json:"healthy"`
	RegisteredAt  time.Time `json:"registeredAt"`
	LastCheckedAt time.Time `json:"lastCheckedAt,omitempty"`
}

// Registry is a mutex-guarded name → descriptor map. It is mutated from
// request-handling paths (service startup/shutdown) and from the health
// monitor's timer goroutine; all reads return copies so callers never
// observe a partially written descriptor.
type Registry struct {
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	services map[string]*ServiceDescriptor
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:   logger,
		now:      time.Now,
		services: make(map[string]*ServiceDescriptor),
	}
}

// Register upserts a service entry. Last write wins; re-registering an
// existing name replaces its descriptor. New entries start healthy until
// the monitor says otherwise.
func (r *Registry) Register(name, address string) {
	r.mu.Lock()
	r.services[name] = &ServiceDescriptor{
		Name:         name,
		Address:      address,
		Healthy:      true,
		RegisteredAt: r.now().UTC(),
	}
	r.mu.Unlock()

	r.logger.Info("service registered", "service", name, "address", address)
}

// Discover returns a copy of the descriptor for name, or ErrServiceNotFound.
func (r *Registry) Discover(name string) (ServiceDescriptor, error) {
	r.mu.RLock()
	desc, ok := r.services[name]
	if !ok {
		r.mu.RUnlock()
		return ServiceDescriptor{}, ErrServiceNotFound
	}
	copy := *desc
	r.mu.RUnlock()
	return copy, nil
}

// Unregister removes the entry for name. Removing an absent name is not an
// error.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.services[name]
	delete(r.services, name)
	r.mu.Unlock()

	if existed {
		r.logger.Info("service unregistered", "service", name)
	}
}

// UpdateHealth mutates only the health flag and check timestamp of an
// existing entry. Unknown names are a logged no-op: the service may have
// unregistered between the monitor's snapshot and its probe result.
func (r *Registry) UpdateHealth(name string, healthy bool) {
	r.mu.Lock()
	desc, ok := r.services[name]
	if ok {
		desc.Healthy = healthy
		desc.LastCheckedAt = r.now().UTC()
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("health update for unknown service", "service", name, "healthy", healthy)
	}
}

// Services returns a snapshot of all current descriptors for diagnostics.
// The returned map and its values are copies.
func (r *Registry) Services() map[string]ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ServiceDescriptor, len(r.services))
	for name, desc := range r.services {
		out[name] = *desc
	}
	return out
}
