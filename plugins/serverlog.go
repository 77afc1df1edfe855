package plugins

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconkit/beacon/plugin"
)

// Record is one dispatched call flattened for a server-side consumer.
type Record struct {
	Method     plugin.Method  `json:"method"`
	Name       string         `json:"name,omitempty"`
	Path       string         `json:"path,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ServerLog hands every dispatched call to a caller-supplied function,
// typically a bridge into an application's own logging or persistence.
// The callback's error is the sink's error.
type ServerLog struct {
	fn func(ctx context.Context, r Record) error
}

// NewServerLog creates the callback sink.
func NewServerLog(fn func(ctx context.Context, r Record) error) *ServerLog {
	return &ServerLog{fn: fn}
}

func (s *ServerLog) Name() string { return "serverlog" }

func (s *ServerLog) Initialize(ctx context.Context) error {
	if s.fn == nil {
		return fmt.Errorf("serverlog: callback is required")
	}
	return nil
}

func (s *ServerLog) Track(ctx context.Context, event *plugin.Event) error {
	return s.fn(ctx, Record{
		Method:     plugin.MethodTrack,
		Name:       event.Name,
		Properties: event.Properties,
		Timestamp:  event.Timestamp,
	})
}

func (s *ServerLog) Page(ctx context.Context, view *plugin.PageView) error {
	return s.fn(ctx, Record{
		Method:     plugin.MethodPage,
		Path:       view.Path,
		Properties: view.Properties,
		Timestamp:  view.Timestamp,
	})
}

func (s *ServerLog) Identify(ctx context.Context, identity *plugin.Identity) error {
	return s.fn(ctx, Record{
		Method:     plugin.MethodIdentify,
		UserID:     identity.UserID,
		Properties: identity.Traits,
		Timestamp:  identity.Timestamp,
	})
}
