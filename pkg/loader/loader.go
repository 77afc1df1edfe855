// Package loader fetches and caches external vendor resources (remote SDK
// scripts, tag containers) for plugins that depend on them. Loads are
// idempotent, deduplicated per identity and retried a bounded number of
// times.
package loader

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

// Defaults for load options.
const (
	DefaultRetries    = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Fetcher retrieves a remote resource. The default fetcher performs an
// HTTP GET and fails on non-2xx/3xx responses; tests inject their own.
type Fetcher func(ctx context.Context, src string) error

// Options configures a single load.
type Options struct {
	// ID keys the load for deduplication and later state queries.
	// Empty ID falls back to the source URL.
	ID string
	// Retries is the number of additional attempts after the first
	// failure (default 3).
	Retries int
	// RetryDelay is the pause between attempts (default 500ms).
	RetryDelay time.Duration
	// Attributes are recorded on the loaded resource for callers.
	Attributes map[string]string
}

// Resource describes a successfully loaded external resource.
type Resource struct {
	ID         string
	Src        string
	Attributes map[string]string
	LoadedAt   time.Time
}

// Loader deduplicates and caches resource loads. Safe for concurrent use.
type Loader struct {
	fetcher Fetcher
	group   singleflight.Group

	mu     sync.RWMutex
	loaded map[string]*Resource
}

// New creates a loader. A nil fetcher uses HTTP GET with a 10s timeout.
func New(fetcher Fetcher) *Loader {
	if fetcher == nil {
		fetcher = HTTPFetcher(&http.Client{Timeout: 10 * time.Second})
	}
	return &Loader{
		fetcher: fetcher,
		loaded:  make(map[string]*Resource),
	}
}

// HTTPFetcher returns a Fetcher backed by client.
func HTTPFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, src string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 {
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, src)
		}
		return nil
	}
}

// Load fetches src, deduplicating concurrent calls for the same identity:
// at most one fetch is in flight per id at any time, and all concurrent
// callers share its outcome. An already-loaded resource returns
// immediately.
//
// On failure every retry removes the failed attempt's state and tries
// afresh after the retry delay; once retries are exhausted the identity is
// forgotten entirely so a later call may start over.
func (l *Loader) Load(ctx context.Context, src string, opts Options) (*Resource, error) {
	key := opts.ID
	if key == "" {
		key = src
	}

	l.mu.RLock()
	if res, ok := l.loaded[key]; ok {
		l.mu.RUnlock()
		return res, nil
	}
	l.mu.RUnlock()

	retries := opts.Retries
	if retries <= 0 {
		retries = DefaultRetries
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		attempts := 0
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(retries)),
			ctx,
		)
		fetchErr := backoff.Retry(func() error {
			attempts++
			return l.fetcher(ctx, src)
		}, policy)
		if fetchErr != nil {
			return nil, fmt.Errorf("failed to load %s after %d retries: %w", src, retries, fetchErr)
		}

		res := &Resource{
			ID:         key,
			Src:        src,
			Attributes: opts.Attributes,
			LoadedAt:   time.Now(),
		}
		l.mu.Lock()
		l.loaded[key] = res
		l.mu.Unlock()
		return res, nil
	})
	// Forget the flight either way: success is served from the loaded
	// map, failure must not pin the error for future callers.
	l.group.Forget(key)

	if err != nil {
		return nil, err
	}
	return v.(*Resource), nil
}

// IsLoaded reports whether the identity has been loaded.
func (l *Loader) IsLoaded(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.loaded[id]
	return ok
}

// Remove forgets a loaded resource so the next Load fetches it again.
func (l *Loader) Remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.loaded, id)
}
