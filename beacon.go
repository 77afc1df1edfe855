// Package beacon is an event analytics pipeline: track, page and identify
// calls are validated, run through an ordered middleware chain (session
// enrichment, consent gating, privacy scrubbing, batching) and fanned out in
// parallel to registered sink plugins.
//
// The core never lets a sink or middleware failure surface to the caller of
// Track, Page or Identify; runtime errors are categorized and routed to a
// pluggable error handler. Only configuration mistakes and custom event
// validation failures are returned directly.
package beacon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/pkg/schema"
	"github.com/beaconkit/beacon/plugin"
)

// Built-in event names. Anything else passed to Track is a custom event and
// must be registered with a schema first.
var builtinEvents = map[string]struct{}{
	"page_view":   {},
	"click":       {},
	"form_submit": {},
	"sign_up":     {},
	"login":       {},
	"logout":      {},
	"purchase":    {},
	"search":      {},
	"error":       {},
}

// IsBuiltinEvent reports whether name is one of the fixed built-in event
// names.
func IsBuiltinEvent(name string) bool {
	_, ok := builtinEvents[name]
	return ok
}

// Options configures a core.
type Options struct {
	// Plugins are the initial sinks. Fan-out to sinks is parallel with
	// no ordering guarantee between siblings.
	Plugins []plugin.Plugin
	// Middleware stages run strictly in the given order.
	Middleware []plugin.Middleware
	// Debug makes the default error handler log every pipeline error.
	Debug bool
	// ErrorHandler receives every runtime pipeline error. Defaults to a
	// handler that logs in debug mode and is silent otherwise.
	ErrorHandler ErrorHandler
	// Logger is the destination for the default error handler and
	// internal diagnostics.
	Logger *log.Logger
	// Clock overrides timestamp stamping (default time.Now).
	Clock func() time.Time
}

// Analytics is the pipeline orchestrator. Construct with New, register
// sinks and custom events, then call Initialize once before dispatching.
type Analytics struct {
	middleware []plugin.Middleware
	events     *schema.Registry
	handler    ErrorHandler
	logger     *log.Logger
	debug      bool
	clock      func() time.Time

	mu          sync.Mutex
	plugins     *pluginSet
	initialized bool

	// closers run after plugin teardown, releasing shared resources such
	// as the storage adapter behind a config-assembled pipeline.
	closers []func(context.Context) error

	// healthChecks probe the dependencies wired in by FromConfig.
	healthChecks []*observability.Check
}

// New validates the options and builds a core. Plugins with empty names,
// middleware with empty names and duplicate plugin names are configuration
// errors, reported at construction rather than at the first event.
func New(opts Options) (*Analytics, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	a := &Analytics{
		middleware: opts.Middleware,
		events:     schema.NewRegistry(),
		logger:     logger,
		debug:      opts.Debug,
		clock:      clock,
		plugins:    newPluginSet(),
	}

	a.handler = opts.ErrorHandler
	if a.handler == nil {
		a.handler = a.defaultHandler
	}

	seen := make(map[string]struct{}, len(opts.Plugins))
	for _, p := range opts.Plugins {
		if p == nil || p.Name() == "" {
			return nil, newConfigurationError("plugin requires a non-empty name", nil)
		}
		if _, dup := seen[p.Name()]; dup {
			return nil, newConfigurationError("duplicate plugin name", map[string]any{
				"plugin": p.Name(),
			})
		}
		seen[p.Name()] = struct{}{}
		a.plugins.add(p)
	}

	for _, m := range opts.Middleware {
		if m == nil || m.Name() == "" {
			return nil, newConfigurationError("middleware requires a non-empty name", nil)
		}
	}

	return a, nil
}

func (a *Analytics) defaultHandler(err *Error) {
	if a.debug {
		a.logger.Printf("[beacon] %v context=%v", err, err.Context)
	}
}

func (a *Analytics) handleError(err *Error) {
	a.handler(err)
}

// Initialize prepares every registered plugin, in parallel. It is
// idempotent; a second call is a no-op. One plugin's failure is wrapped,
// routed to the error handler and does not abort its siblings or mark the
// core uninitialized.
func (a *Analytics) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.initialized {
		a.mu.Unlock()
		return nil
	}
	a.initialized = true
	plugins := a.plugins.snapshot()
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range plugins {
		wg.Add(1)
		go func(p plugin.Plugin) {
			defer wg.Done()
			a.initializePlugin(ctx, p)
		}(p)
	}
	wg.Wait()
	return nil
}

func (a *Analytics) initializePlugin(ctx context.Context, p plugin.Plugin) {
	defer func() {
		if r := recover(); r != nil {
			a.handleError(newError(CategoryInitialization, "plugin initialization panicked",
				fmt.Errorf("%v", r), map[string]any{"plugin": p.Name()}))
		}
	}()
	if err := p.Initialize(ctx); err != nil {
		a.handleError(newError(CategoryInitialization, "plugin initialization failed", err,
			map[string]any{"plugin": p.Name()}))
	}
}

// Use registers a plugin, replacing any existing plugin of the same name.
// The replaced slot is not preserved; the plugin is appended. When the core
// is already initialized the new plugin is initialized immediately.
func (a *Analytics) Use(ctx context.Context, p plugin.Plugin) error {
	if p == nil || p.Name() == "" {
		return newConfigurationError("plugin requires a non-empty name", nil)
	}

	a.mu.Lock()
	a.plugins.add(p)
	initialized := a.initialized
	a.mu.Unlock()

	if initialized {
		a.initializePlugin(ctx, p)
	}
	return nil
}

// Remove drops the named plugin. No-op when absent.
func (a *Analytics) Remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plugins.remove(name)
}

// Plugin returns the registered plugin with the given name.
func (a *Analytics) Plugin(name string) (plugin.Plugin, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plugins.get(name)
}

// Plugins returns the registered plugins in order.
func (a *Analytics) Plugins() []plugin.Plugin {
	return a.pluginsSnapshot()
}

// PluginCount returns the number of registered plugins.
func (a *Analytics) PluginCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plugins.len()
}

func (a *Analytics) pluginsSnapshot() []plugin.Plugin {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plugins.snapshot()
}

// RegisterEvent binds a schema to a custom event name. Names are
// write-once; a duplicate registration is a configuration error.
func (a *Analytics) RegisterEvent(name string, s *schema.Schema) error {
	if name == "" {
		return newConfigurationError("custom event requires a non-empty name", nil)
	}
	if s == nil {
		return newConfigurationError("custom event requires a schema", map[string]any{
			"event": name,
		})
	}
	if err := a.events.Register(name, s); err != nil {
		return newConfigurationError("custom event already registered", map[string]any{
			"event": name,
		})
	}
	return nil
}

// EventSchema returns the schema registered for a custom event name, or nil
// when absent.
func (a *Analytics) EventSchema(name string) *schema.Schema {
	return a.events.Get(name)
}

// Track dispatches an event. Built-in names pass through unconditionally;
// custom names must have a registered schema and properties that validate
// against it. Validation failures are returned to the caller; downstream
// plugin and middleware failures are not.
func (a *Analytics) Track(ctx context.Context, name string, properties map[string]any) error {
	if !IsBuiltinEvent(name) {
		s := a.events.Get(name)
		if s == nil {
			return newValidationError("Unregistered custom event", nil, map[string]any{
				"event": name,
			})
		}
		if properties == nil {
			return newValidationError("Properties required for custom event", nil, map[string]any{
				"event": name,
			})
		}
		if result := s.Validate(properties); !result.Valid {
			return newValidationError("Custom event validation failed", result.Err(), map[string]any{
				"event":  name,
				"errors": result.Errors.Errors,
			})
		}
	}

	a.dispatch(ctx, &plugin.Event{
		Name:       name,
		Properties: properties,
		Timestamp:  a.clock(),
	})
	return nil
}

// Page dispatches a page view. The timestamp is stamped here; any value on
// the input is overwritten.
func (a *Analytics) Page(ctx context.Context, view plugin.PageView) error {
	view.Timestamp = a.clock()
	a.dispatch(ctx, &view)
	return nil
}

// Identify binds a user id and optional traits to the current session.
func (a *Analytics) Identify(ctx context.Context, userID string, traits map[string]any) error {
	a.dispatch(ctx, &plugin.Identity{
		UserID:    userID,
		Traits:    traits,
		Timestamp: a.clock(),
	})
	return nil
}

// Close tears down every plugin and middleware that holds resources.
// Destroy errors are routed to the error handler; Close itself always
// succeeds.
func (a *Analytics) Close(ctx context.Context) error {
	for _, m := range a.middleware {
		if d, ok := m.(interface{ Destroy() error }); ok {
			if err := d.Destroy(); err != nil {
				a.handleError(newError(CategoryMiddleware, "middleware teardown failed", err,
					map[string]any{"middleware": m.Name()}))
			}
		}
	}
	for _, p := range a.pluginsSnapshot() {
		if d, ok := p.(plugin.Destroyer); ok {
			if err := d.Destroy(ctx); err != nil {
				a.handleError(newError(CategoryPlugin, "plugin teardown failed", err,
					map[string]any{"plugin": p.Name()}))
			}
		}
	}
	for _, closer := range a.closers {
		if err := closer(ctx); err != nil {
			a.handleError(newError(CategoryConfiguration, "resource teardown failed", err, nil))
		}
	}
	return nil
}

// OnClose registers a teardown function to run at the end of Close.
func (a *Analytics) OnClose(fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// HealthChecks returns the dependency probes assembled alongside the
// pipeline, ready to register on an observability checker. Empty for cores
// built directly with New.
func (a *Analytics) HealthChecks() []*observability.Check {
	return a.healthChecks
}
