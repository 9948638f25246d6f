package daemon

import (
	"fmt"
	"reflect"
	"sync"
)

// Registry holds optional collaborators keyed by their type. The daemon
// looks them up instead of requiring them, so a missing dashboard or
// state database is ordinary control flow.
type Registry struct {
	mu   sync.RWMutex
	caps map[reflect.Type]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[reflect.Type]any)}
}

func keyOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Provide registers v as the capability of type T. Registering the same
// type twice panics.
func Provide[T any](r *Registry, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyOf[T]()
	if _, exists := r.caps[key]; exists {
		panic(fmt.Sprintf("daemon: Provide called twice for %s", key))
	}
	r.caps[key] = v
}

// Lookup returns the capability of type T and whether it is present.
func Lookup[T any](r *Registry) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.caps[keyOf[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

