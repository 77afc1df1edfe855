package middleware

import (
	"context"
	"log"

	"github.com/beaconkit/beacon/pkg/environ"
	"github.com/beaconkit/beacon/pkg/session"
	"github.com/beaconkit/beacon/plugin"
)

// Session enriches every payload with the active session: id, counters and
// running duration. It shares one session.Store with the rest of the
// pipeline; the store must be constructed once and injected, never
// duplicated.
type Session struct {
	store *session.Store
	env   *environ.Environment

	offFocus      func()
	offVisibility func()
}

// NewSession creates the enrichment stage. In client environments it
// registers focus and visibilitychange listeners that proactively refresh
// session liveness.
func NewSession(store *session.Store, env *environ.Environment) *Session {
	m := &Session{store: store, env: env}

	if env.IsClient() {
		refresh := func() {
			if err := store.HandleActivity(context.Background()); err != nil {
				log.Printf("[session] activity refresh failed: %v", err)
			}
		}
		m.offFocus = env.Events().On(environ.EventFocus, refresh)
		m.offVisibility = env.Events().On(environ.EventVisibility, refresh)
	}

	return m
}

func (m *Session) Name() string { return "session" }

// Process refreshes activity, bumps the matching counter and merges session
// fields into the payload's properties or traits. A store failure fails the
// stage; the core logs it and forwards the event unenriched.
func (m *Session) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	var (
		data *session.Data
		err  error
	)

	switch v := p.(type) {
	case *plugin.Event:
		data, err = m.store.RecordEvent(ctx)
	case *plugin.PageView:
		data, err = m.store.RecordPageView(ctx)
	case *plugin.Identity:
		data, err = m.store.SetUser(ctx, v.UserID)
	default:
		return next(ctx, p)
	}
	if err != nil {
		return err
	}

	now := m.env.Now()
	fields := map[string]any{
		"session_id":         data.ID,
		"session_page_views": data.PageViews,
		"session_events":     data.Events,
		"session_duration":   data.Duration(now).Milliseconds(),
	}

	enriched := p.Clone()
	switch v := enriched.(type) {
	case *plugin.Event:
		v.Properties = mergeFields(v.Properties, fields)
	case *plugin.PageView:
		v.Properties = mergeFields(v.Properties, fields)
	case *plugin.Identity:
		v.Traits = mergeFields(v.Traits, fields)
	}

	return next(ctx, enriched)
}

// Destroy detaches the activity listeners and tears down the store.
func (m *Session) Destroy() error {
	if m.offFocus != nil {
		m.offFocus()
	}
	if m.offVisibility != nil {
		m.offVisibility()
	}
	m.store.Destroy()
	return nil
}

func mergeFields(dst map[string]any, fields map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		dst[k] = v
	}
	return dst
}
