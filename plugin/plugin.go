// Package plugin defines the contracts between the analytics core and its
// collaborators: sink plugins that deliver events to external destinations,
// and middleware that transforms or gates events on their way to the sinks.
//
// External packages implement these interfaces for custom sinks and
// processing stages.
package plugin

import "context"

// Plugin is the interface every sink must implement.
//
// A plugin is registered under its Name, receives Initialize exactly once
// per core lifetime, and then receives every subsequent track/page/identify
// call for the capabilities it declares (see Tracker, Pager and Identifier).
// Plugin names must be unique within one core; registering a second plugin
// with the same name replaces the first.
type Plugin interface {
	// Name returns the unique, caller-visible identity of this plugin.
	// It is used for deduplication, replacement and by-name lookup.
	Name() string

	// Initialize prepares the plugin for dispatch. It is called once,
	// in parallel with sibling plugins. An error is routed to the core's
	// error handler and does not abort sibling initialization.
	Initialize(ctx context.Context) error
}

// Tracker receives tracked events. Plugins that do not care about events
// simply do not implement it.
type Tracker interface {
	Track(ctx context.Context, event *Event) error
}

// Pager receives page views.
type Pager interface {
	Page(ctx context.Context, view *PageView) error
}

// Identifier receives identity calls.
type Identifier interface {
	Identify(ctx context.Context, identity *Identity) error
}

// Loader is a synchronous readiness probe. It is polled by callers, never
// by the core: a plugin that reports Loaded() == false still receives
// dispatch calls and must handle them safely.
type Loader interface {
	Loaded() bool
}

// Destroyer releases resources held by a plugin when the core shuts down.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Next advances the middleware chain with the given payload. A middleware
// may call it with the payload unchanged, with a transformed copy, or not
// at all (holding or dropping the event).
type Next func(ctx context.Context, p Payload) error

// Middleware is an ordered, named processing stage between event creation
// and sink dispatch. Stages run strictly in registration order; stage N's
// transformed payload is what stage N+1 observes.
//
// A stage that returns an error is skipped, not fatal: the core routes the
// error to its handler and continues the chain with the pre-stage payload.
type Middleware interface {
	// Name returns the stage's identity, used in error context.
	Name() string

	// Process inspects or transforms p and calls next to continue the
	// chain. Not calling next swallows (or queues) the payload.
	Process(ctx context.Context, p Payload, next Next) error
}
