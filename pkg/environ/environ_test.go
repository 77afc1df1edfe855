package environ

import (
	"testing"
	"time"
)

func TestEnvironmentDefaults(t *testing.T) {
	srv := Server()
	if srv.IsClient() {
		t.Error("Server() should not be client-side")
	}
	if !srv.Online() {
		t.Error("Server() should be online")
	}

	cli := Client()
	if !cli.IsClient() {
		t.Error("Client() should be client-side")
	}
}

func TestInjectedClock(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e := New(Options{Clock: func() time.Time { return fixed }})

	if !e.Now().Equal(fixed) {
		t.Errorf("Now() = %v, want %v", e.Now(), fixed)
	}
}

func TestSetOnlineEmitsTransitionsOnly(t *testing.T) {
	e := Client()

	var online, offline int
	e.Events().On(EventOnline, func() { online++ })
	e.Events().On(EventOffline, func() { offline++ })

	e.SetOnline(true) // no change, no event
	e.SetOnline(false)
	e.SetOnline(false) // no change
	e.SetOnline(true)

	if offline != 1 {
		t.Errorf("offline events = %d, want 1", offline)
	}
	if online != 1 {
		t.Errorf("online events = %d, want 1", online)
	}
}

func TestEmitterDetach(t *testing.T) {
	em := NewEmitter()

	var calls int
	off := em.On(EventFocus, func() { calls++ })

	em.Emit(EventFocus)
	off()
	em.Emit(EventFocus)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
