package storage

import (
	"context"
	"sync"
)

// MemoryAdapter implements Adapter with an in-process map. It is the
// fallback for environments without durable storage and the default in
// tests.
type MemoryAdapter struct {
	mu     sync.RWMutex
	values map[string][]byte
	closed bool
}

// NewMemoryAdapter creates a new in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		values: make(map[string][]byte),
	}
}

// Get retrieves the value stored under key.
func (m *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrAdapterClosed
	}

	v, ok := m.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Copy so callers can't mutate stored state
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores value under key.
func (m *MemoryAdapter) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAdapterClosed
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.values[key] = v
	return nil
}

// Remove deletes key.
func (m *MemoryAdapter) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAdapterClosed
	}

	delete(m.values, key)
	return nil
}

// Close releases the adapter. Subsequent operations return ErrAdapterClosed.
func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.values = nil
	return nil
}
