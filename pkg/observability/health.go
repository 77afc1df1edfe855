package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the aggregate or per-check health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check probes one pipeline dependency. A failing critical check takes the
// whole report to unhealthy; a failing non-critical one only degrades it.
type Check struct {
	Name     string
	Probe    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// CheckResult is the outcome of a single probe run.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// Report aggregates every registered check.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker runs registered checks on demand and aggregates the results.
// Checks run in registration order.
type Checker struct {
	mu      sync.Mutex
	checks  []*Check
	started time.Time
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{started: time.Now()}
}

// Register adds a check. A zero timeout defaults to 5s.
func (c *Checker) Register(check *Check) {
	if check.Timeout <= 0 {
		check.Timeout = 5 * time.Second
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run probes every registered check and aggregates them into a Report.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := make([]*Check, len(c.checks))
	copy(checks, c.checks)
	started := c.started
	c.mu.Unlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(started).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for _, check := range checks {
		result := runProbe(ctx, check)
		report.Checks[check.Name] = result

		switch {
		case result.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case result.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

// runProbe runs one check under its own timeout. The probe runs on its own
// goroutine so a wedged dependency cannot hang the handler past Timeout.
func runProbe(ctx context.Context, check *Check) CheckResult {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.Probe(probeCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}

	result := CheckResult{
		Status:   StatusHealthy,
		Message:  "OK",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Message = err.Error()
		if check.Critical {
			result.Status = StatusUnhealthy
		} else {
			result.Status = StatusDegraded
		}
	}
	return result
}

// HealthHandler serves the full aggregated report. Degraded still answers
// 200; only unhealthy flips to 503.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler answers ready only while every check passes.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// LivenessHandler answers as long as the process can serve requests at all.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// PingCheck always passes; it proves the checker itself is running.
func PingCheck() *Check {
	return &Check{
		Name:    "ping",
		Probe:   func(context.Context) error { return nil },
		Timeout: time.Second,
	}
}

// StorageCheck probes the pipeline's storage adapter. The adapter is
// critical: sessions, the offline queue and consent state all live behind
// it.
func StorageCheck(probe func(context.Context) error) *Check {
	return &Check{
		Name:     "storage",
		Probe:    probe,
		Timeout:  5 * time.Second,
		Critical: true,
	}
}

// SinkCheck probes an external sink (webhook endpoint, Kafka brokers).
// Sinks degrade the pipeline, they never take it down.
func SinkCheck(name string, probe func(context.Context) error) *Check {
	return &Check{
		Name:    name,
		Probe:   probe,
		Timeout: 10 * time.Second,
	}
}
