// Package storage provides the uniform key-value abstraction the pipeline
// persists through: session records, the offline event queue and consent
// preferences. Adapters exist for in-memory, file and Redis storage.
package storage

import (
	"context"
	"errors"
)

// Common errors for adapter operations.
var (
	// ErrKeyNotFound is returned when a key doesn't exist.
	ErrKeyNotFound = errors.New("storage key not found")
	// ErrAdapterClosed is returned when operating on a closed adapter.
	ErrAdapterClosed = errors.New("storage adapter is closed")
)

// Durable keys used by the pipeline.
const (
	// SessionKey holds the active session record.
	SessionKey = "analytics_session"
	// QueueKey holds the offline event queue.
	QueueKey = "analytics_queue"
	// ConsentKey holds consent preferences.
	ConsentKey = "analytics_consent"
)

// Adapter abstracts durable or in-memory key-value storage.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Get retrieves the value stored under key.
	// Returns ErrKeyNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Close releases any resources held by the adapter.
	Close() error
}
