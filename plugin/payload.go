package plugin

import "time"

// Method identifies which core entry point produced a payload.
type Method string

const (
	MethodTrack    Method = "track"
	MethodPage     Method = "page"
	MethodIdentify Method = "identify"
)

// Payload is the closed union of the three payload kinds that flow through
// the middleware chain: *Event, *PageView and *Identity.
type Payload interface {
	// Method reports which entry point produced this payload.
	Method() Method

	// Clone returns a copy whose top-level and first-level nested maps
	// are independent of the receiver. Middleware must clone before
	// mutating so that sibling stages and the caller are not affected.
	Clone() Payload
}

// Event is a tracked event, either a built-in name or a registered custom
// event whose properties validated against its schema.
type Event struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (e *Event) Method() Method { return MethodTrack }

func (e *Event) Clone() Payload {
	c := *e
	c.Properties = cloneMap(e.Properties)
	return &c
}

// PageView records a page navigation. Path is mandatory.
type PageView struct {
	Path       string         `json:"path"`
	Title      string         `json:"title,omitempty"`
	Referrer   string         `json:"referrer,omitempty"`
	Search     string         `json:"search,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

func (p *PageView) Method() Method { return MethodPage }

func (p *PageView) Clone() Payload {
	c := *p
	c.Properties = cloneMap(p.Properties)
	return &c
}

// Identity binds a user id and optional traits to the current session.
// UserID is mandatory and non-empty.
type Identity struct {
	UserID    string         `json:"user_id"`
	Traits    map[string]any `json:"traits,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (i *Identity) Method() Method { return MethodIdentify }

func (i *Identity) Clone() Payload {
	c := *i
	c.Traits = cloneMap(i.Traits)
	return &c
}

// cloneMap copies m and any first-level nested maps. Deeper values are
// shared, matching how far the pipeline's middleware ever mutates.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			inner := make(map[string]any, len(nested))
			for nk, nv := range nested {
				inner[nk] = nv
			}
			out[k] = inner
			continue
		}
		out[k] = v
	}
	return out
}
