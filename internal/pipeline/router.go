package pipeline

import (
	"fmt"
	"sort"
)

// Router dispatches engine names to backend implementations at the three
// external boundaries. An unknown name resolves to the configured fallback,
// so a session asking for an engine this deployment does not run still gets
// service instead of an error mid-conversation.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router over the given backends. fallback names the
// engine used when a requested one is not registered.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route resolves an engine name to its backend. The error fires only when
// neither the requested engine nor the fallback is registered.
func (r *Router[T]) Route(engine string) (T, error) {
	name := engine
	if _, ok := r.backends[name]; !ok {
		name = r.fallback
	}
	backend, ok := r.backends[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("no backend for engine %q", engine)
	}
	return backend, nil
}

// Has reports whether engine is registered, without fallback resolution.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines lists registered backend names in stable order.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
