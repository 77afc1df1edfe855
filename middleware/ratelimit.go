package middleware

import (
	"context"
	"log"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/beaconkit/beacon/pkg/observability"
	"github.com/beaconkit/beacon/plugin"
)

// RateLimitConfig tunes the sampling stage.
type RateLimitConfig struct {
	// EventsPerSecond is the sustained rate (default 50).
	EventsPerSecond float64
	// Burst is the bucket size (default 100).
	Burst int
	// Logger overrides the log destination.
	Logger *log.Logger
}

// RateLimit drops events beyond a token-bucket rate so a misbehaving
// caller cannot flood the sinks. Dropped events are counted, not errors.
type RateLimit struct {
	limiter *rate.Limiter
	logger  *log.Logger
	dropped atomic.Int64
}

// NewRateLimit creates the sampling stage.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &RateLimit{
		limiter: rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), cfg.Burst),
		logger:  cfg.Logger,
	}
}

func (m *RateLimit) Name() string { return "ratelimit" }

// Process forwards the payload when a token is available, otherwise drops
// it silently.
func (m *RateLimit) Process(ctx context.Context, p plugin.Payload, next plugin.Next) error {
	if !m.limiter.Allow() {
		observability.RecordDroppedEvent("rate_limited")
		n := m.dropped.Add(1)
		if n%100 == 1 {
			m.logger.Printf("[ratelimit] dropped %d events so far", n)
		}
		return nil
	}
	return next(ctx, p)
}

// Dropped returns the number of events discarded by the limiter.
func (m *RateLimit) Dropped() int64 {
	return m.dropped.Load()
}
