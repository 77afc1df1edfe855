package beacon

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/segmentio/kafka-go"

	"github.com/beaconkit/beacon/middleware"
	"github.com/beaconkit/beacon/pkg/config"
	"github.com/beaconkit/beacon/pkg/environ"
	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/pkg/session"
	"github.com/beaconkit/beacon/pkg/storage"
	"github.com/beaconkit/beacon/plugin"
	"github.com/beaconkit/beacon/plugins"
)

// FromConfig assembles a full pipeline from a validated configuration:
// environment, storage adapter, session store, the enabled middleware in
// their canonical order and the configured sinks. The storage adapter is
// closed by the core's Close.
func FromConfig(cfg *config.Config) (*Analytics, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newConfigurationError("invalid configuration", map[string]any{
			"cause": err.Error(),
		})
	}

	var env *environ.Environment
	if cfg.Environment == "client" {
		env = environ.Client()
	} else {
		env = environ.Server()
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(adapter, session.Config{
		Timeout:     cfg.Session.Timeout,
		Referrer:    cfg.Session.Referrer,
		InitialPath: cfg.Session.InitialPath,
	})

	// Canonical stage order: validation gates first, enrichment before
	// gating and scrubbing, batching last so it sees final payloads.
	var stages []plugin.Middleware
	if cfg.Validation.Enabled {
		stages = append(stages, middleware.NewValidation(middleware.ValidationConfig{
			Strict:        cfg.Validation.Strict,
			MinNameLength: cfg.Validation.MinNameLength,
			MaxNameLength: cfg.Validation.MaxNameLength,
		}))
	}
	if cfg.RateLimit.Enabled {
		stages = append(stages, middleware.NewRateLimit(middleware.RateLimitConfig{
			EventsPerSecond: cfg.RateLimit.EventsPerSecond,
			Burst:           cfg.RateLimit.Burst,
		}))
	}
	stages = append(stages, middleware.NewSession(store, env))
	if cfg.Consent.Enabled {
		required := make([]middleware.ConsentCategory, 0, len(cfg.Consent.Required))
		for _, c := range cfg.Consent.Required {
			required = append(required, middleware.ConsentCategory(c))
		}
		stages = append(stages, middleware.NewConsent(adapter, middleware.ConsentConfig{
			Required:        required,
			DropWhileDenied: cfg.Consent.DropWhileDenied,
		}))
	}
	if cfg.Privacy.Enabled {
		stages = append(stages, middleware.NewPrivacy(middleware.PrivacyConfig{
			SensitiveFields: cfg.Privacy.SensitiveFields,
			HashFields:      cfg.Privacy.HashFields,
		}))
	}
	if cfg.Batch.Enabled {
		stages = append(stages, middleware.NewBatch(adapter, env, middleware.BatchConfig{
			MaxSize:       cfg.Batch.MaxSize,
			MaxWait:       cfg.Batch.MaxWait,
			MaxRetries:    cfg.Batch.MaxRetries,
			FlushOnUnload: cfg.Batch.FlushOnUnload,
		}))
	}

	var sinks []plugin.Plugin
	if cfg.Sinks.Console {
		sinks = append(sinks, plugins.NewConsole(log.Default()))
	}
	if cfg.Sinks.Debug {
		sinks = append(sinks, plugins.NewDebug())
	}
	if cfg.Sinks.Webhook != nil {
		sinks = append(sinks, plugins.NewWebhook(plugins.WebhookConfig{
			URL:     cfg.Sinks.Webhook.URL,
			Headers: cfg.Sinks.Webhook.Headers,
			SDKSrc:  cfg.Sinks.Webhook.SDKSrc,
		}))
	}
	if cfg.Sinks.Kafka != nil {
		sinks = append(sinks, plugins.NewKafka(plugins.KafkaConfig{
			Brokers: cfg.Sinks.Kafka.Brokers,
			Topic:   cfg.Sinks.Kafka.Topic,
		}))
	}

	a, err := New(Options{
		Plugins:    sinks,
		Middleware: stages,
		Debug:      cfg.Debug,
	})
	if err != nil {
		return nil, err
	}
	a.OnClose(func(ctx context.Context) error {
		return adapter.Close()
	})

	a.healthChecks = []*observability.Check{
		observability.StorageCheck(storagePing(adapter)),
	}
	if cfg.Sinks.Webhook != nil {
		a.healthChecks = append(a.healthChecks,
			observability.SinkCheck("webhook", webhookPing(cfg.Sinks.Webhook.URL)))
	}
	if cfg.Sinks.Kafka != nil {
		a.healthChecks = append(a.healthChecks,
			observability.SinkCheck("kafka", kafkaPing(cfg.Sinks.Kafka.Brokers)))
	}
	return a, nil
}

// storagePing exercises a full Set/Get/Remove cycle so the health report
// reflects real adapter behavior, not just connectivity.
func storagePing(adapter storage.Adapter) func(context.Context) error {
	const key = "analytics_health"
	return func(ctx context.Context) error {
		if err := adapter.Set(ctx, key, []byte("ok")); err != nil {
			return err
		}
		if _, err := adapter.Get(ctx, key); err != nil {
			return err
		}
		return adapter.Remove(ctx, key)
	}
}

// webhookPing reports the endpoint reachable. Any HTTP response below 500
// counts; the probe carries no event payload.
func webhookPing(url string) func(context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}

// kafkaPing dials the first broker.
func kafkaPing(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

func buildAdapter(cfg *config.Config) (storage.Adapter, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemoryAdapter(), nil
	case "file":
		adapter, err := storage.NewFileAdapter(cfg.Storage.Dir)
		if err != nil {
			return nil, newConfigurationError("file storage setup failed", map[string]any{
				"dir":   cfg.Storage.Dir,
				"cause": err.Error(),
			})
		}
		return adapter, nil
	case "redis":
		adapter, err := storage.NewRedisAdapter(storage.RedisConfig{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
			TTL:      cfg.Storage.Redis.TTL,
			PoolSize: cfg.Storage.Redis.PoolSize,
		})
		if err != nil {
			return nil, newConfigurationError("redis storage setup failed", map[string]any{
				"addr":  cfg.Storage.Redis.Addr,
				"cause": err.Error(),
			})
		}
		return adapter, nil
	}
	return nil, newConfigurationError(fmt.Sprintf("unknown storage backend %q", cfg.Storage.Backend), nil)
}
