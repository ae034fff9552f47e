package pipeline

import (
	"fmt"
	"slices"
)

// Router maps engine names to backend constructors. Only the engine that is
// selected gets built, so unused backends never need credentials.
type Router[T any] struct {
	factories map[string]func() (T, error)
	fallback  string
}

// NewRouter creates a router whose unknown engines resolve to fallback.
func NewRouter[T any](fallback string) *Router[T] {
	return &Router[T]{factories: make(map[string]func() (T, error)), fallback: fallback}
}

// Register adds a backend constructor under engine.
func (r *Router[T]) Register(engine string, build func() (T, error)) *Router[T] {
	r.factories[engine] = build
	return r
}

// Build constructs the backend for engine, falling back to the default.
// It returns the engine name actually used.
func (r *Router[T]) Build(engine string) (T, string, error) {
	var zero T
	name := engine
	build, ok := r.factories[engine]
	if !ok {
		name = r.fallback
		build, ok = r.factories[r.fallback]
	}
	if !ok {
		return zero, "", fmt.Errorf("no backend for engine %q (have %v)", engine, r.Engines())
	}
	backend, err := build()
	if err != nil {
		return zero, name, fmt.Errorf("build %s backend: %w", name, err)
	}
	return backend, name, nil
}

// Has reports whether the router has a backend for the given engine name.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.factories[engine]
	return ok
}

// Engines returns the registered engine names, sorted.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.factories))
	for k := range r.factories {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
