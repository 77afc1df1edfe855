package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/pkg/storage"
	"github.com/beaconkit/beacon/plugin"
)

// ConsentCategory names a consent bucket a middleware can require.
type ConsentCategory string

const (
	ConsentNecessary   ConsentCategory = "necessary"
	ConsentFunctional  ConsentCategory = "functional"
	ConsentAnalytics   ConsentCategory = "analytics"
	ConsentAdvertising ConsentCategory = "advertising"
	ConsentSocial      ConsentCategory = "social"
)

// Preferences records the visitor's consent choices. Necessary is always
// true and cannot be revoked.
type Preferences struct {
	Necessary   bool `json:"necessary"`
	Functional  bool `json:"functional"`
	Analytics   bool `json:"analytics"`
	Advertising bool `json:"advertising"`
	Social      bool `json:"social"`
}

func (p Preferences) granted(c ConsentCategory) bool {
	switch c {
	case ConsentNecessary:
		return true
	case ConsentFunctional:
		return p.Functional
	case ConsentAnalytics:
		return p.Analytics
	case ConsentAdvertising:
		return p.Advertising
	case ConsentSocial:
		return p.Social
	}
	return false
}

// ConsentUpdate is a partial preference change; nil fields are untouched.
type ConsentUpdate struct {
	Functional  *bool
	Analytics   *bool
	Advertising *bool
	Social      *bool
}

// ConsentConfig tunes the consent gate.
type ConsentConfig struct {
	// Required lists the categories that must all be granted before
	// events flow (default: analytics).
	Required []ConsentCategory
	// DropWhileDenied discards events arriving without consent instead
	// of holding them in memory for replay (default: hold).
	DropWhileDenied bool
	// StorageKey overrides the durable key (default
	// storage.ConsentKey).
	StorageKey string
	// Logger overrides the log destination.
	Logger *log.Logger
}

type heldCall struct {
	payload plugin.Payload
	next    plugin.Next
	at      time.Time
}

// Consent gates the pipeline on the visitor's consent preferences. While
// consent is absent events are queued (or dropped); when consent is
// granted the queue is replayed best-effort in FIFO order.
type Consent struct {
	adapter  storage.Adapter
	key      string
	required []ConsentCategory
	queueing bool
	logger   *log.Logger

	mu    sync.Mutex
	prefs Preferences
	queue []heldCall
}

// NewConsent creates the consent gate, loading persisted preferences or
// defaulting to necessary-only.
func NewConsent(adapter storage.Adapter, cfg ConsentConfig) *Consent {
	required := cfg.Required
	if len(required) == 0 {
		required = []ConsentCategory{ConsentAnalytics}
	}
	key := cfg.StorageKey
	if key == "" {
		key = storage.ConsentKey
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	m := &Consent{
		adapter:  adapter,
		key:      key,
		required: required,
		queueing: !cfg.DropWhileDenied,
		logger:   logger,
		prefs:    Preferences{Necessary: true},
	}
	m.load()
	return m
}

func (m *Consent) load() {
	raw, err := m.adapter.Get(context.Background(), m.key)
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			m.logger.Printf("[consent] load preferences failed: %v", err)
		}
		return
	}
	var prefs Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		m.logger.Printf("[consent] corrupt preferences, using defaults: %v", err)
		return
	}
	prefs.Necessary = true
	m.prefs = prefs
}

func (m *Consent) Name() string { return "consent" }

// HasConsent reports whether every required category is granted.
func (m *Consent) HasConsent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasConsentLocked()
}

func (m *Consent) hasConsentLocked() bool {
	for _, c := range m.required {
		if !m.prefs.granted(c) {
			return false
		}
	}
	return true
}

// Preferences returns a copy of the current preferences.
func (m *Consent) Preferences() Preferences {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prefs
}

// QueueLen returns the number of held events.
func (m *Consent) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Process forwards the payload when consent is present; otherwise it holds
// the call for later replay (or drops it when queueing is disabled).
func (m *Consent) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	m.mu.Lock()
	if m.hasConsentLocked() {
		m.mu.Unlock()
		return next(ctx, p)
	}

	if m.queueing {
		m.queue = append(m.queue, heldCall{payload: p.Clone(), next: next, at: time.Now()})
		observability.SetConsentQueueDepth(len(m.queue))
	} else {
		observability.RecordDroppedEvent("consent_denied")
	}
	m.mu.Unlock()
	return nil
}

// UpdateConsent merges a partial preference change and persists the
// result. When the update grants previously missing consent, the held
// queue is replayed in FIFO order.
//
// Replay is best-effort: an entry whose replay fails is pushed back for
// the next consent change while later entries continue, so strict ordering
// is not preserved across a partial failure.
func (m *Consent) UpdateConsent(ctx context.Context, update ConsentUpdate) error {
	m.mu.Lock()

	had := m.hasConsentLocked()

	if update.Functional != nil {
		m.prefs.Functional = *update.Functional
	}
	if update.Analytics != nil {
		m.prefs.Analytics = *update.Analytics
	}
	if update.Advertising != nil {
		m.prefs.Advertising = *update.Advertising
	}
	if update.Social != nil {
		m.prefs.Social = *update.Social
	}
	m.prefs.Necessary = true

	data, err := json.Marshal(m.prefs)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := m.adapter.Set(ctx, m.key, data); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("persist preferences: %w", err)
	}

	replay := !had && m.hasConsentLocked()
	var held []heldCall
	if replay {
		held = m.queue
		m.queue = nil
		observability.SetConsentQueueDepth(0)
	}
	m.mu.Unlock()

	if !replay {
		return nil
	}

	var requeue []heldCall
	for _, call := range held {
		if err := call.next(ctx, call.payload); err != nil {
			m.logger.Printf("[consent] replay failed, requeueing: %v", err)
			requeue = append(requeue, call)
		}
	}
	if len(requeue) > 0 {
		m.mu.Lock()
		m.queue = append(requeue, m.queue...)
		observability.SetConsentQueueDepth(len(m.queue))
		m.mu.Unlock()
	}
	return nil
}
