// Package registry provides a generic named-component registry used for
// tools, LLM providers, embedders and vector stores. Registries that back
// request-serving surfaces are frozen after boot.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the common interface for named component registries.
type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Names() []string
	Count() int
}

// BaseRegistry is a concurrency-safe map-backed registry. Once Freeze is
// called, further registrations are rejected.
type BaseRegistry[T any] struct {
	mu     sync.RWMutex
	items  map[string]T
	frozen bool
}

// NewBaseRegistry creates an empty registry.
func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{
		items: make(map[string]T),
	}
}

// Register adds an item under a unique name.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register '%s'", name)
	}
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("item with name '%s' already registered", name)
	}

	r.items[name] = item
	return nil
}

// Get returns the item registered under name.
func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, exists := r.items[name]
	return item, exists
}

// List returns all registered items in unspecified order.
func (r *BaseRegistry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	return items
}

// Names returns all registered names, sorted.
func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered items.
func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.items)
}

// Freeze makes the registry immutable. Used after boot so that the serving
// path never observes registry mutation.
func (r *BaseRegistry[T]) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *BaseRegistry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.frozen
}
