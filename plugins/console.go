// Package plugins ships the built-in sink plugins: console logging, an
// in-memory debug capture, a webhook forwarder, a server-side callback sink
// and a Kafka producer. Each implements the subset of dispatch capabilities
// it cares about; the core discovers the rest by interface assertion.
package plugins

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/beaconkit/beacon/plugin"
)

// Console logs every dispatched call. It is mainly useful during
// development and as the smallest possible reference sink.
type Console struct {
	logger *log.Logger
	loaded atomic.Bool
}

// NewConsole creates the console sink. A nil logger uses the process
// default.
func NewConsole(logger *log.Logger) *Console {
	if logger == nil {
		logger = log.Default()
	}
	return &Console{logger: logger}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Initialize(ctx context.Context) error {
	c.loaded.Store(true)
	c.logger.Printf("[console] initialized")
	return nil
}

func (c *Console) Loaded() bool { return c.loaded.Load() }

func (c *Console) Track(ctx context.Context, event *plugin.Event) error {
	c.logger.Printf("[console] track name=%s properties=%v", event.Name, event.Properties)
	return nil
}

func (c *Console) Page(ctx context.Context, view *plugin.PageView) error {
	c.logger.Printf("[console] page path=%s title=%s", view.Path, view.Title)
	return nil
}

func (c *Console) Identify(ctx context.Context, identity *plugin.Identity) error {
	c.logger.Printf("[console] identify user=%s traits=%v", identity.UserID, identity.Traits)
	return nil
}
