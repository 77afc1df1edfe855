package beacon

import (
	"context"
	"fmt"
	"sync"

	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/plugin"
)

// dispatch drives a payload through the middleware chain and fans the
// result out to the sinks. With no middleware it fans out directly.
func (a *Analytics) dispatch(ctx context.Context, p plugin.Payload) {
	start := a.clock()
	ctx, span := observability.StartSpan(ctx, "beacon.dispatch", map[string]any{
		"method": string(p.Method()),
	})
	defer func() {
		span.End()
		observability.RecordEvent(string(p.Method()), "dispatched", a.clock().Sub(start))
	}()

	if len(a.middleware) == 0 {
		a.fanOut(ctx, p)
		return
	}
	a.runChain(ctx, 0, p)
}

// runChain executes middleware stages from index i onward. A stage that
// fails is skipped, not fatal: its error is wrapped, routed to the handler,
// and the chain continues at i+1 with the pre-stage payload. A stage that
// succeeds without calling next has held or dropped the payload and the
// chain ends there.
func (a *Analytics) runChain(ctx context.Context, i int, p plugin.Payload) {
	if i >= len(a.middleware) {
		a.fanOut(ctx, p)
		return
	}

	stage := a.middleware[i]
	advanced := false
	next := plugin.Next(func(ctx context.Context, transformed plugin.Payload) error {
		advanced = true
		a.runChain(ctx, i+1, transformed)
		return nil
	})

	err := a.safeProcess(ctx, stage, p, next)
	if err != nil {
		observability.RecordMiddlewareError(stage.Name())
		a.handleError(newError(CategoryMiddleware, "middleware processing failed", err, map[string]any{
			"middleware": stage.Name(),
			"method":     string(p.Method()),
		}))
		if !advanced {
			a.runChain(ctx, i+1, p)
		}
	}
}

// safeProcess invokes a middleware stage, converting a panic into an error
// so one broken stage cannot take down the caller.
func (a *Analytics) safeProcess(ctx context.Context, stage plugin.Middleware, p plugin.Payload, next plugin.Next) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("middleware %s panicked: %v", stage.Name(), r)
		}
	}()
	return stage.Process(ctx, p, next)
}

// fanOut delivers the payload to every registered sink in parallel. Each
// plugin's failure is caught independently; one slow or broken sink never
// blocks or fails its siblings.
func (a *Analytics) fanOut(ctx context.Context, p plugin.Payload) {
	plugins := a.pluginsSnapshot()
	if len(plugins) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, pl := range plugins {
		wg.Add(1)
		go func(pl plugin.Plugin) {
			defer wg.Done()
			start := a.clock()
			err := a.safeDispatch(ctx, pl, p)
			observability.RecordPluginDispatch(pl.Name(), a.clock().Sub(start))
			if err != nil {
				observability.RecordPluginError(pl.Name(), string(p.Method()))
				a.handleError(newError(CategoryPlugin, "plugin dispatch failed", err, map[string]any{
					"plugin": pl.Name(),
					"method": string(p.Method()),
				}))
			}
		}(pl)
	}
	wg.Wait()
}

// safeDispatch routes the payload to the capability interface the plugin
// implements. Plugins without the matching capability are skipped.
func (a *Analytics) safeDispatch(ctx context.Context, pl plugin.Plugin, p plugin.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", pl.Name(), r)
		}
	}()

	switch v := p.(type) {
	case *plugin.Event:
		if tracker, ok := pl.(plugin.Tracker); ok {
			return tracker.Track(ctx, v)
		}
	case *plugin.PageView:
		if pager, ok := pl.(plugin.Pager); ok {
			return pager.Page(ctx, v)
		}
	case *plugin.Identity:
		if identifier, ok := pl.(plugin.Identifier); ok {
			return identifier.Identify(ctx, v)
		}
	}
	return nil
}
