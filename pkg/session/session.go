// Package session owns the single active session record shared by the
// pipeline's enrichment middleware: a bounded-lifetime, activity-renewed
// record of user engagement, persisted through a storage adapter.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/pkg/storage"
)

// ErrNoSession is returned when no active session exists and one cannot be
// created.
var ErrNoSession = errors.New("no active session")

// DefaultTimeout is the inactivity window after which a session expires.
const DefaultTimeout = 30 * time.Minute

// Data is the session record. Exactly one Data is active per Store.
type Data struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	PageViews      int       `json:"page_views"`
	Events         int       `json:"events"`
	Referrer       string    `json:"referrer,omitempty"`
	InitialPath    string    `json:"initial_path,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
}

// Duration returns how long the session has been running as of now.
func (d *Data) Duration(now time.Time) time.Duration {
	return now.Sub(d.StartedAt)
}

// Config configures a Store.
type Config struct {
	// Timeout is the inactivity window before expiry (default 30m).
	Timeout time.Duration
	// Clock overrides the time source (default time.Now). Injected for
	// deterministic expiry tests.
	Clock func() time.Time
	// Referrer and InitialPath seed newly created sessions.
	Referrer    string
	InitialPath string
}

// Store owns the active session. It is safe for concurrent use and is
// intended to be constructed once and shared by every middleware that needs
// it; duplicating stores makes the counters diverge.
type Store struct {
	adapter storage.Adapter
	timeout time.Duration
	clock   func() time.Time

	referrer    string
	initialPath string

	mu        sync.Mutex
	current   *Data
	timer     *time.Timer
	destroyed bool
}

// NewStore creates a session store backed by adapter.
func NewStore(adapter storage.Adapter, cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		adapter:     adapter,
		timeout:     timeout,
		clock:       clock,
		referrer:    cfg.Referrer,
		initialPath: cfg.InitialPath,
	}
}

// Current returns a snapshot of the active session, creating one on first
// access or after expiry.
func (s *Store) Current(ctx context.Context) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.ensureLocked(ctx)
	if err != nil {
		return nil, err
	}
	snap := *d
	return &snap, nil
}

// HandleActivity refreshes session liveness, recreating the session if it
// expired since the last touch.
func (s *Store) HandleActivity(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.ensureLocked(ctx)
	if err != nil {
		return err
	}
	d.LastActivityAt = s.clock()
	return s.persistLocked(ctx, d)
}

// RecordEvent increments the event counter and returns a snapshot.
func (s *Store) RecordEvent(ctx context.Context) (*Data, error) {
	return s.mutate(ctx, func(d *Data) { d.Events++ })
}

// RecordPageView increments the page view counter and returns a snapshot.
func (s *Store) RecordPageView(ctx context.Context) (*Data, error) {
	return s.mutate(ctx, func(d *Data) { d.PageViews++ })
}

// SetUser binds a user id to the session and returns a snapshot.
func (s *Store) SetUser(ctx context.Context, userID string) (*Data, error) {
	return s.mutate(ctx, func(d *Data) { d.UserID = userID })
}

func (s *Store) mutate(ctx context.Context, fn func(*Data)) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.ensureLocked(ctx)
	if err != nil {
		return nil, err
	}
	fn(d)
	d.LastActivityAt = s.clock()
	if err := s.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	snap := *d
	return &snap, nil
}

// IsExpired reports whether the in-memory session is absent or past its
// inactivity timeout. It never renews.
func (s *Store) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return true
	}
	return s.clock().Sub(s.current.LastActivityAt) > s.timeout
}

// Clear destroys the active session in memory and in storage. The next
// access creates a fresh one.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	s.stopTimerLocked()
	if err := s.adapter.Remove(ctx, storage.SessionKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Destroy tears the store down: the expiry timer is stopped and the
// in-memory session dropped. Durable state is left for the next store.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	s.current = nil
	s.stopTimerLocked()
}

// ensureLocked returns the active session, adopting a persisted one or
// creating a fresh record when none is live. Expiry is evaluated lazily
// here on every read.
func (s *Store) ensureLocked(ctx context.Context) (*Data, error) {
	if s.destroyed {
		return nil, ErrNoSession
	}

	now := s.clock()

	if s.current != nil {
		if now.Sub(s.current.LastActivityAt) > s.timeout {
			s.current = nil // expired, replace below
		} else {
			return s.current, nil
		}
	}

	// Try to adopt a persisted session from a previous run
	if raw, err := s.adapter.Get(ctx, storage.SessionKey); err == nil {
		var d Data
		if jsonErr := json.Unmarshal(raw, &d); jsonErr == nil && d.ID != "" {
			if now.Sub(d.LastActivityAt) <= s.timeout {
				s.current = &d
				s.armTimerLocked()
				return s.current, nil
			}
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("load session: %w", err)
	}

	d := &Data{
		ID:             uuid.New().String(),
		StartedAt:      now,
		LastActivityAt: now,
		Referrer:       s.referrer,
		InitialPath:    s.initialPath,
	}
	s.current = d
	if err := s.persistLocked(ctx, d); err != nil {
		return nil, err
	}
	observability.RecordSessionStarted()
	return d, nil
}

func (s *Store) persistLocked(ctx context.Context, d *Data) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.adapter.Set(ctx, storage.SessionKey, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	s.armTimerLocked()
	return nil
}

// armTimerLocked (re)schedules the proactive expiry timer. A single timer
// per store: any pending one is stopped before a new one is armed.
func (s *Store) armTimerLocked() {
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.current != nil && s.clock().Sub(s.current.LastActivityAt) > s.timeout {
			s.current = nil
		}
	})
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
