package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/beaconkit/beacon/pkg/loader"
	"github.com/beaconkit/beacon/plugin"
)

// WebhookConfig configures the webhook sink.
type WebhookConfig struct {
	// URL receives one POST per dispatched call.
	URL string
	// Headers are added to every request.
	Headers map[string]string
	// Client overrides the HTTP client (default: 10s timeout).
	Client *http.Client
	// SDKSrc, when set, is a vendor resource fetched through the loader
	// during Initialize. The sink reports Loaded only after both
	// initialization and the SDK fetch succeed.
	SDKSrc string
	// Loader performs the SDK fetch. Required when SDKSrc is set.
	Loader *loader.Loader
}

// Webhook forwards every dispatched call as a JSON POST to a configured
// endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client *http.Client
	loaded atomic.Bool
}

// NewWebhook creates the webhook sink.
func NewWebhook(cfg WebhookConfig) *Webhook {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{cfg: cfg, client: client}
}

func (w *Webhook) Name() string { return "webhook" }

// Initialize validates the configuration and warms up the vendor SDK when
// one is configured.
func (w *Webhook) Initialize(ctx context.Context) error {
	if w.cfg.URL == "" {
		return fmt.Errorf("webhook: URL is required")
	}
	if w.cfg.SDKSrc != "" {
		if w.cfg.Loader == nil {
			return fmt.Errorf("webhook: SDKSrc set without a loader")
		}
		if _, err := w.cfg.Loader.Load(ctx, w.cfg.SDKSrc, loader.Options{ID: w.Name()}); err != nil {
			return fmt.Errorf("webhook: sdk load: %w", err)
		}
	}
	w.loaded.Store(true)
	return nil
}

func (w *Webhook) Loaded() bool { return w.loaded.Load() }

func (w *Webhook) Track(ctx context.Context, event *plugin.Event) error {
	return w.post(ctx, map[string]any{
		"type":       plugin.MethodTrack,
		"name":       event.Name,
		"properties": event.Properties,
		"timestamp":  event.Timestamp,
	})
}

func (w *Webhook) Page(ctx context.Context, view *plugin.PageView) error {
	return w.post(ctx, map[string]any{
		"type":       plugin.MethodPage,
		"path":       view.Path,
		"title":      view.Title,
		"referrer":   view.Referrer,
		"properties": view.Properties,
		"timestamp":  view.Timestamp,
	})
}

func (w *Webhook) Identify(ctx context.Context, identity *plugin.Identity) error {
	return w.post(ctx, map[string]any{
		"type":      plugin.MethodIdentify,
		"userId":    identity.UserID,
		"traits":    identity.Traits,
		"timestamp": identity.Timestamp,
	})
}

func (w *Webhook) post(ctx context.Context, body map[string]any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
