package plugins

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/beaconkit/beacon/plugin"
)

// Call is one captured dispatch, tagged with a unique id and capture time.
type Call struct {
	ID      string
	Method  plugin.Method
	Payload plugin.Payload
	At      time.Time
}

// Debug captures every dispatched call in memory for inspection in tests
// and development tooling. Captures are deep enough copies that later
// pipeline stages cannot mutate them.
type Debug struct {
	mu     sync.Mutex
	calls  []Call
	loaded bool
}

// NewDebug creates the capture sink.
func NewDebug() *Debug {
	return &Debug{}
}

func (d *Debug) Name() string { return "debug" }

func (d *Debug) Initialize(ctx context.Context) error {
	d.mu.Lock()
	d.loaded = true
	d.mu.Unlock()
	return nil
}

func (d *Debug) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Debug) Track(ctx context.Context, event *plugin.Event) error {
	d.capture(event)
	return nil
}

func (d *Debug) Page(ctx context.Context, view *plugin.PageView) error {
	d.capture(view)
	return nil
}

func (d *Debug) Identify(ctx context.Context, identity *plugin.Identity) error {
	d.capture(identity)
	return nil
}

func (d *Debug) capture(p plugin.Payload) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{
		ID:      uuid.New().String(),
		Method:  p.Method(),
		Payload: p.Clone(),
		At:      time.Now(),
	})
}

// Calls returns a snapshot of everything captured so far, oldest first.
func (d *Debug) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Reset discards the capture buffer.
func (d *Debug) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}
