package beacon

import (
	"context"
	"errors"
	"testing"

	"github.com/beaconkit/beacon/pkg/config"
	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/plugin"
	"github.com/beaconkit/beacon/plugins"
)

func TestFromConfigMemoryPipeline(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.Debug = true
	cfg.Privacy.Enabled = true

	a, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	ctx := context.Background()
	if err := a.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer a.Close(ctx)

	if err := a.Track(ctx, "page_view", map[string]any{"email": "a@b.com", "safe": "y"}); err != nil {
		t.Fatalf("Track() error = %v", err)
	}

	p, ok := a.Plugin("debug")
	if !ok {
		t.Fatalf("debug sink not registered")
	}
	debug := p.(*plugins.Debug)
	calls := debug.Calls()
	if len(calls) != 1 {
		t.Fatalf("captured %d calls, want 1", len(calls))
	}

	// The privacy stage ran: email hashed, safe field untouched, and the
	// session stage merged its enrichment fields
	ev := calls[0].Payload.(*plugin.Event)
	if _, present := ev.Properties["email"]; present {
		t.Fatalf("privacy stage did not run: %v", ev.Properties)
	}
	if _, present := ev.Properties["email_hash"]; !present {
		t.Fatalf("email not hashed: %v", ev.Properties)
	}
	if ev.Properties["safe"] != "y" {
		t.Fatalf("safe field modified: %v", ev.Properties)
	}
	if _, present := ev.Properties["session_id"]; !present {
		t.Fatalf("session enrichment missing: %v", ev.Properties)
	}
}

func TestFromConfigHealthChecks(t *testing.T) {
	cfg := config.Default()
	cfg.Sinks.Webhook = &config.WebhookConfig{URL: "http://localhost:1/collect"}

	a, err := FromConfig(cfg)
	if err != nil {
		t.Fatalf("FromConfig() error = %v", err)
	}
	ctx := context.Background()
	defer a.Close(ctx)

	checks := a.HealthChecks()
	byName := make(map[string]*observability.Check, len(checks))
	for _, check := range checks {
		byName[check.Name] = check
	}

	st, ok := byName["storage"]
	if !ok {
		t.Fatalf("storage check not assembled: %v", byName)
	}
	if !st.Critical {
		t.Fatalf("storage check must be critical")
	}
	if err := st.Probe(ctx); err != nil {
		t.Fatalf("storage probe error = %v", err)
	}

	wh, ok := byName["webhook"]
	if !ok {
		t.Fatalf("webhook check not assembled: %v", byName)
	}
	if wh.Critical {
		t.Fatalf("webhook check must not be critical")
	}
}

func TestFromConfigRejectsInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "edge"

	_, err := FromConfig(cfg)
	if err == nil {
		t.Fatalf("FromConfig() expected error for invalid environment")
	}
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Category != CategoryConfiguration {
		t.Fatalf("FromConfig() error = %v, want configuration error", err)
	}
}
