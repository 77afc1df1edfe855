package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/beaconkit/beacon/pkg/environ"
	"github.com/beaconkit/beacon/pkg/session"
	"github.com/beaconkit/beacon/pkg/storage"
	"github.com/beaconkit/beacon/plugin"
)

func newSessionFixture(t *testing.T) (*Session, *session.Store, *environ.Environment) {
	t.Helper()
	adapter := storage.NewMemoryAdapter()
	t.Cleanup(func() { adapter.Close() })

	store := session.NewStore(adapter, session.Config{})
	env := environ.Client()
	return NewSession(store, env), store, env
}

func TestSessionEnrichesEvent(t *testing.T) {
	m, _, _ := newSessionFixture(t)
	rec := &recorder{}

	err := m.Process(context.Background(), &plugin.Event{Name: "signup"}, rec.next)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("next called %d times, want 1", len(rec.calls))
	}

	ev, ok := rec.calls[0].(*plugin.Event)
	if !ok {
		t.Fatalf("forwarded payload is %T, want *plugin.Event", rec.calls[0])
	}
	if ev.Properties["session_id"] == "" || ev.Properties["session_id"] == nil {
		t.Fatalf("session_id missing from enriched properties: %v", ev.Properties)
	}
	if got := ev.Properties["session_events"]; got != 1 {
		t.Fatalf("session_events = %v, want 1", got)
	}
	if got := ev.Properties["session_page_views"]; got != 0 {
		t.Fatalf("session_page_views = %v, want 0", got)
	}
	if _, ok := ev.Properties["session_duration"]; !ok {
		t.Fatalf("session_duration missing")
	}
}

func TestSessionDoesNotMutateOriginal(t *testing.T) {
	m, _, _ := newSessionFixture(t)
	rec := &recorder{}

	original := &plugin.Event{Name: "signup"}
	if err := m.Process(context.Background(), original, rec.next); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if original.Properties != nil {
		t.Fatalf("original payload mutated: %v", original.Properties)
	}
}

func TestSessionCountsPageViewsAndIdentity(t *testing.T) {
	m, store, _ := newSessionFixture(t)
	rec := &recorder{}
	ctx := context.Background()

	if err := m.Process(ctx, &plugin.PageView{Path: "/home"}, rec.next); err != nil {
		t.Fatalf("Process(page) error = %v", err)
	}
	if err := m.Process(ctx, &plugin.Identity{UserID: "u-42"}, rec.next); err != nil {
		t.Fatalf("Process(identify) error = %v", err)
	}

	data, err := store.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if data.PageViews != 1 {
		t.Fatalf("PageViews = %d, want 1", data.PageViews)
	}
	if data.UserID != "u-42" {
		t.Fatalf("UserID = %q, want u-42", data.UserID)
	}

	id, ok := rec.calls[1].(*plugin.Identity)
	if !ok {
		t.Fatalf("forwarded payload is %T, want *plugin.Identity", rec.calls[1])
	}
	if id.Traits["session_id"] == nil {
		t.Fatalf("identity traits missing session fields: %v", id.Traits)
	}
}

func TestSessionFocusRefreshesActivity(t *testing.T) {
	adapter := storage.NewMemoryAdapter()
	t.Cleanup(func() { adapter.Close() })

	now := time.Now()
	clock := func() time.Time { return now }
	store := session.NewStore(adapter, session.Config{Timeout: time.Minute, Clock: clock})
	env := environ.New(environ.Options{Client: true, Online: true, Clock: clock})
	m := NewSession(store, env)
	defer m.Destroy()

	if _, err := store.Current(context.Background()); err != nil {
		t.Fatalf("Current() error = %v", err)
	}

	now = now.Add(50 * time.Second)
	env.Events().Emit(environ.EventFocus)

	now = now.Add(50 * time.Second)
	if store.IsExpired() {
		t.Fatalf("session expired despite focus refresh")
	}
}

func TestSessionStoreFailureFailsStage(t *testing.T) {
	adapter := storage.NewMemoryAdapter()
	adapter.Close()

	store := session.NewStore(adapter, session.Config{})
	m := NewSession(store, environ.Server())
	rec := &recorder{}

	err := m.Process(context.Background(), &plugin.Event{Name: "signup"}, rec.next)
	if err == nil {
		t.Fatalf("Process() expected error with closed adapter")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("next must not be called when the stage fails")
	}
}
