// Package builtin is the origin for extensions compiled into the host.
// Extensions register themselves from init() and the registry is
// enumerated like any other origin.
package builtin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	plugins "github.com/mantonx/vvf/sdk"
)

// Factory builds a fresh capability instance.
type Factory func() plugins.Extension

// Definition describes one compiled-in extension.
type Definition struct {
	ID           string
	EntryPoint   string
	Name         string
	Version      string
	Description  string
	Author       string
	Capabilities []plugins.CapabilityKind
	Settings     map[string]string
	// Disabled turns the extension off until the user enables it.
	Disabled bool
	Factory  Factory
}

func (d Definition) entryPoint() string {
	if d.EntryPoint != "" {
		return d.EntryPoint
	}
	return d.ID
}

// Registry holds definitions keyed by id.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]Definition
	listeners map[int]func()
	nextID    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:      make(map[string]Definition),
		listeners: make(map[int]func()),
	}
}

// Register adds or replaces a definition and signals subscribers.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("builtin extension has no id")
	}
	if strings.ContainsAny(def.ID, ",/") {
		return fmt.Errorf("builtin extension id %q must not contain ',' or '/'", def.ID)
	}
	if def.Factory == nil {
		return fmt.Errorf("builtin extension %s has no factory", def.ID)
	}

	r.mu.Lock()
	r.defs[def.ID] = def
	listeners := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Unregister removes a definition.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.defs[id]
	delete(r.defs, id)
	listeners := make([]func(), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	if ok {
		for _, fn := range listeners {
			fn()
		}
	}
}

// Definitions returns every definition ordered by id.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Get looks a definition up by id.
func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	return d, ok
}

// ByEntryPoint looks a definition up by entry point.
func (r *Registry) ByEntryPoint(entryPoint string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.defs {
		if d.entryPoint() == entryPoint {
			return d, true
		}
	}
	return Definition{}, false
}

// Subscribe registers a change signal.
func (r *Registry) Subscribe(onChange func()) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = onChange
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

var global = NewRegistry()

// Global returns the process wide registry extensions register into.
func Global() *Registry {
	return global
}

// Register adds def to the global registry. It panics on an invalid
// definition because it is only called from init().
func Register(def Definition) {
	if err := global.Register(def); err != nil {
		panic(err)
	}
}
