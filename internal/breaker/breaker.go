// Package breaker implements the per-service circuit breaker consulted by
// the gateway before every proxied call.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen marks a call that was suppressed because the target
// service's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is a point-in-time view of one service's breaker, for diagnostics.
type State struct {
	Failures    int        `json:"failures"`
	Open        bool       `json:"open"`
	LastFailure *time.Time `json:"lastFailure,omitempty"`
}

// breaker tracks consecutive failures for a single service name.
//
// The state machine has two stable states. Closed: calls permitted; each
// failure increments the count and the threshold trips it open. Open: calls
// forbidden until cooldown has elapsed since the last failure, at which
// point the next IsOpen query closes it and zeroes the count. Recovery is
// query-driven, without a trial request.
type breaker struct {
	mu          sync.Mutex
	failures    int
	open        bool
	lastFailure time.Time
}

// Group holds one independent breaker per service name. Breakers are
// created lazily on first observation and live for the process lifetime.
type Group struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time // for testing

	// OnOpen, if set, is invoked with the service name each time a breaker
	// trips open. Set before first use; read without synchronization.
	OnOpen func(name string)

	mu       sync.Mutex
	breakers map[string]*breaker
}

// NewGroup creates a breaker group that opens a service's circuit after
// threshold consecutive failures and auto-recovers after cooldown.
func NewGroup(threshold int, cooldown time.Duration) *Group {
	return &Group{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		breakers:  make(map[string]*breaker),
	}
}

func (g *Group) get(name string) *breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	b, ok := g.breakers[name]
	if !ok {
		b = &breaker{}
		g.breakers[name] = b
	}
	return b
}

// IsOpen reports whether calls to name are currently forbidden. Querying an
// open breaker after the cooldown has elapsed since its last failure closes
// it, resets the failure count, and reports false.
func (g *Group) IsOpen(name string) bool {
	b := g.get(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return false
	}
	if g.now().Sub(b.lastFailure) >= g.cooldown {
		b.open = false
		b.failures = 0
		return false
	}
	return true
}

// RecordFailure increments name's consecutive failure count and stamps the
// failure time. Reaching the threshold opens the circuit.
func (g *Group) RecordFailure(name string) {
	b := g.get(name)

	b.mu.Lock()
	b.failures++
	b.lastFailure = g.now()
	tripped := !b.open && b.failures >= g.threshold
	if tripped {
		b.open = true
	}
	b.mu.Unlock()

	if tripped && g.OnOpen != nil {
		g.OnOpen(name)
	}
}

// ResetOnSuccess zeroes name's failure count and closes its circuit
// unconditionally.
func (g *Group) ResetOnSuccess(name string) {
	b := g.get(name)

	b.mu.Lock()
	b.failures = 0
	b.open = false
	b.mu.Unlock()
}

// Snapshot returns the current state of every breaker the group has seen.
func (g *Group) Snapshot() map[string]State {
	g.mu.Lock()
	names := make([]string, 0, len(g.breakers))
	tracked := make(map[string]*breaker, len(g.breakers))
	for name, b := range g.breakers {
		names = append(names, name)
		tracked[name] = b
	}
	g.mu.Unlock()

	out := make(map[string]State, len(names))
	for _, name := range names {
		b := tracked[name]
		b.mu.Lock()
		st := State{Failures: b.failures, Open: b.open}
		if !b.lastFailure.IsZero() {
			ts := b.lastFailure
			st.LastFailure = &ts
		}
		b.mu.Unlock()
		out[name] = st
	}
	return out
}
