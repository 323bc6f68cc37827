// Package registry maps class names from configuration to constructors.
//
// A Registry is a plain value built once by the composition root and handed
// to whoever needs to instantiate sources or listeners. Sources and listeners
// use two separate registries so their names never collide.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound is returned by Lookup for an unknown name.
	ErrNotFound = errors.New("not registered")

	// ErrDuplicate is returned by Register when the name is already taken.
	ErrDuplicate = errors.New("already registered")
)

// Registry holds name → T bindings. T is usually a constructor func.
type Registry[T any] struct {
	kind string

	mu      sync.RWMutex
	entries map[string]T
}

// New creates an empty registry. kind is used in error messages
// ("source", "listener").
func New[T any](kind string) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		entries: make(map[string]T),
	}
}

// Register binds name to ctor. Registering a name twice fails with
// ErrDuplicate; the first binding is kept.
func (r *Registry[T]) Register(name string, ctor T) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%s registry: name is required", r.kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrDuplicate)
	}
	r.entries[name] = ctor
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry[T]) MustRegister(name string, ctor T) {
	if err := r.Register(name, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the binding for name or ErrNotFound.
func (r *Registry[T]) Lookup(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctor, ok := r.entries[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s %q: %w", r.kind, name, ErrNotFound)
	}
	return ctor, nil
}

// Names returns every registered name in sorted order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Kind returns the label given to New.
func (r *Registry[T]) Kind() string {
	return r.kind
}
