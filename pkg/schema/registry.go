package schema

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned when a custom event name is registered
// twice. Entries are write-once.
var ErrAlreadyRegistered = errors.New("custom event already registered")

// Registry maps custom event names to their schemas. Safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register binds a schema to a custom event name. Registering a duplicate
// name returns ErrAlreadyRegistered.
func (r *Registry) Register(name string, s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[name]; exists {
		return ErrAlreadyRegistered
	}
	r.schemas[name] = s
	return nil
}

// Get returns the schema for name, or nil if absent.
func (r *Registry) Get(name string) *Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.schemas[name]
}

// Names returns all registered event names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}
