package services

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mfreitas/gatehouse/core"
	"github.com/mfreitas/gatehouse/pkg/logging"
)

// GuardRegistry holds the named guard configurations and tracks which one
// is current. Switching guards is audited; reads are safe for concurrent
// use.
type GuardRegistry struct {
	mu       sync.RWMutex
	guards   map[string]core.GuardConfig
	current  string
	attempts core.AttemptStorage
	events   core.EventSink
	logger   logging.Logger
}

// NewGuardRegistry builds a registry from the given guard set. The first
// call to Use establishes the current guard; until then Current returns
// the "web" guard when present, otherwise an arbitrary one.
func NewGuardRegistry(guards map[string]core.GuardConfig, attempts core.AttemptStorage, events core.EventSink, logger logging.Logger) *GuardRegistry {
	if logger == nil {
		logger = logging.Nop{}
	}
	if guards == nil {
		guards = core.DefaultGuards()
	}

	current := ""
	if _, ok := guards["web"]; ok {
		current = "web"
	} else {
		for name := range guards {
			current = name
			break
		}
	}

	return &GuardRegistry{
		guards:   guards,
		current:  current,
		attempts: attempts,
		events:   events,
		logger:   logger,
	}
}

// Use switches the current guard and returns its configuration. An unknown
// name reports core.ErrUnknownGuard and leaves the current guard intact.
func (r *GuardRegistry) Use(ctx context.Context, name string, rc core.RequestContext) (core.GuardConfig, error) {
	r.mu.Lock()
	guard, ok := r.guards[name]
	if !ok {
		r.mu.Unlock()
		return core.GuardConfig{}, fmt.Errorf("%w: %s", core.ErrUnknownGuard, name)
	}
	previous := r.current
	r.current = name
	r.mu.Unlock()

	if previous != name {
		logAttempt(ctx, r.attempts, r.logger, attemptGuardSwitched, "", rc, map[string]string{
			"from": previous,
			"to":   name,
		})
		publish(r.events, EventGuardSwitched, map[string]any{
			"from": previous,
			"to":   name,
		})
	}

	return guard, nil
}

// Get returns the configuration for name without changing the current
// guard.
func (r *GuardRegistry) Get(name string) (core.GuardConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	guard, ok := r.guards[name]
	if !ok {
		return core.GuardConfig{}, fmt.Errorf("%w: %s", core.ErrUnknownGuard, name)
	}
	return guard, nil
}

// Current returns the active guard's configuration.
func (r *GuardRegistry) Current() core.GuardConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.guards[r.current]
}

// Has reports whether a guard with the given name is registered.
func (r *GuardRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.guards[name]
	return ok
}

// Names lists the registered guard names in sorted order.
func (r *GuardRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.guards))
	for name := range r.guards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
