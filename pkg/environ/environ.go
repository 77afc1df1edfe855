// Package environ injects the host capabilities the pipeline depends on:
// a clock, an online/offline probe and a lifecycle event bus. Components
// take an *Environment instead of reaching for process globals, which makes
// client, server and test environments a constructor parameter.
package environ

import (
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle events emitted by the host.
const (
	// EventOnline fires when connectivity is restored.
	EventOnline = "online"
	// EventOffline fires when connectivity is lost.
	EventOffline = "offline"
	// EventFocus fires when the host application regains focus.
	EventFocus = "focus"
	// EventVisibility fires when the host application's visibility changes.
	EventVisibility = "visibilitychange"
	// EventBeforeUnload fires just before the host process terminates.
	EventBeforeUnload = "beforeunload"
)

// Environment describes the host the pipeline runs in.
// The zero value is not usable; construct with Server, Client or New.
type Environment struct {
	client bool
	clock  func() time.Time
	online atomic.Bool
	events *Emitter
}

// Options configures a custom environment.
type Options struct {
	// Client marks the environment as client-side. Client environments
	// batch, queue offline events and listen for lifecycle events;
	// server environments pass events straight through.
	Client bool
	// Clock overrides the time source (default: time.Now).
	Clock func() time.Time
	// Online sets the initial connectivity state (default for clients:
	// online).
	Online bool
}

// New creates an environment from options.
func New(opts Options) *Environment {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Environment{
		client: opts.Client,
		clock:  clock,
		events: NewEmitter(),
	}
	e.online.Store(opts.Online)
	return e
}

// Server returns a server-side environment: always online, no batching
// affordances.
func Server() *Environment {
	return New(Options{Client: false, Online: true})
}

// Client returns a client-side environment, initially online.
func Client() *Environment {
	return New(Options{Client: true, Online: true})
}

// Detect picks the environment mode from the BEACON_ENV variable:
// "client" yields a client environment, anything else a server one.
func Detect() *Environment {
	if os.Getenv("BEACON_ENV") == "client" {
		return Client()
	}
	return Server()
}

// IsClient reports whether this is a client-side environment.
func (e *Environment) IsClient() bool { return e.client }

// Now returns the current time from the injected clock.
func (e *Environment) Now() time.Time { return e.clock() }

// Online reports current connectivity.
func (e *Environment) Online() bool { return e.online.Load() }

// SetOnline flips connectivity and emits the matching lifecycle event when
// the state actually changes.
func (e *Environment) SetOnline(online bool) {
	if e.online.Swap(online) == online {
		return
	}
	if online {
		e.events.Emit(EventOnline)
	} else {
		e.events.Emit(EventOffline)
	}
}

// Events returns the lifecycle event bus.
func (e *Environment) Events() *Emitter { return e.events }

// Emitter is a minimal listener registry for host lifecycle events.
// It is safe for concurrent use.
type Emitter struct {
	mu        sync.Mutex
	seq       int
	listeners map[string]map[int]func()
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string]map[int]func())}
}

// On registers fn for event and returns a detach function.
func (em *Emitter) On(event string, fn func()) (off func()) {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.seq++
	id := em.seq
	if em.listeners[event] == nil {
		em.listeners[event] = make(map[int]func())
	}
	em.listeners[event][id] = fn

	return func() {
		em.mu.Lock()
		defer em.mu.Unlock()
		delete(em.listeners[event], id)
	}
}

// Emit invokes every listener registered for event. Listeners run
// synchronously on the caller's goroutine, outside the emitter lock.
func (em *Emitter) Emit(event string) {
	em.mu.Lock()
	fns := make([]func(), 0, len(em.listeners[event]))
	for _, fn := range em.listeners[event] {
		fns = append(fns, fn)
	}
	em.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
