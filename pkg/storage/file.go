package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidKey is returned when a key contains unsafe path characters.
var ErrInvalidKey = errors.New("invalid storage key: contains path separator or traversal sequence")

// validateKey checks that a key is safe to use as a file name.
func validateKey(key string) error {
	if key == "" {
		return errors.New("storage key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

// FileAdapter implements Adapter with one file per key under a base
// directory. Storage layout:
//
//	<base-dir>/
//	  ├── analytics_session
//	  ├── analytics_queue
//	  └── analytics_consent
type FileAdapter struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileAdapter creates a file-backed adapter rooted at baseDir.
// If baseDir is empty, uses ~/.beacon.
func NewFileAdapter(baseDir string) (*FileAdapter, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".beacon")
	}

	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileAdapter{baseDir: baseDir}, nil
}

// Get retrieves the value stored under key.
func (f *FileAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrAdapterClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(f.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("read key %s: %w", key, err)
	}
	return data, nil
}

// Set stores value under key.
func (f *FileAdapter) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrAdapterClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	// Write to a temp file and rename for atomic replacement
	path := filepath.Join(f.baseDir, key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0600); err != nil {
		return fmt.Errorf("write key %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (f *FileAdapter) Remove(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrAdapterClosed
	}
	if err := validateKey(key); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(f.baseDir, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key %s: %w", key, err)
	}
	return nil
}

// Close releases the adapter.
func (f *FileAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}
