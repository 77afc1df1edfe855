package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_total",
			Help: "Total number of dispatched analytics calls",
		},
		[]string{"method", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Plugin metrics
	pluginErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_plugin_errors_total",
			Help: "Total number of plugin dispatch errors",
		},
		[]string{"plugin", "method"},
	)

	pluginDispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "beacon_plugin_dispatch_duration_seconds",
			Help:    "Per-plugin dispatch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	// Middleware metrics
	middlewareErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_middleware_errors_total",
			Help: "Total number of middleware processing errors",
		},
		[]string{"middleware"},
	)

	eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_dropped_total",
			Help: "Total number of events dropped before dispatch",
		},
		[]string{"reason"},
	)

	// Queue metrics
	batchPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_batch_pending",
			Help: "Number of events in the in-memory batch",
		},
	)

	offlineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_offline_queue_depth",
			Help: "Number of events in the durable offline queue",
		},
	)

	consentQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_consent_queue_depth",
			Help: "Number of events held pending consent",
		},
	)

	// Session metrics
	sessionsStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_sessions_started_total",
			Help: "Total number of sessions created",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			eventsTotal,
			dispatchDuration,
			pluginErrorsTotal,
			pluginDispatchDuration,
			middlewareErrorsTotal,
			eventsDroppedTotal,
			batchPending,
			offlineQueueDepth,
			consentQueueDepth,
			sessionsStartedTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordEvent records a dispatched analytics call
func RecordEvent(method, status string, duration time.Duration) {
	eventsTotal.WithLabelValues(method, status).Inc()
	dispatchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPluginError records a plugin dispatch failure
func RecordPluginError(plugin, method string) {
	pluginErrorsTotal.WithLabelValues(plugin, method).Inc()
}

// RecordPluginDispatch records a per-plugin dispatch duration
func RecordPluginDispatch(plugin string, duration time.Duration) {
	pluginDispatchDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

// RecordMiddlewareError records a middleware processing failure
func RecordMiddlewareError(middleware string) {
	middlewareErrorsTotal.WithLabelValues(middleware).Inc()
}

// RecordDroppedEvent records an event discarded before dispatch
func RecordDroppedEvent(reason string) {
	eventsDroppedTotal.WithLabelValues(reason).Inc()
}

// SetBatchPending sets the in-memory batch gauge
func SetBatchPending(count int) {
	batchPending.Set(float64(count))
}

// SetOfflineQueueDepth sets the durable offline queue gauge
func SetOfflineQueueDepth(count int) {
	offlineQueueDepth.Set(float64(count))
}

// SetConsentQueueDepth sets the consent hold queue gauge
func SetConsentQueueDepth(count int) {
	consentQueueDepth.Set(float64(count))
}

// RecordSessionStarted records a session creation
func RecordSessionStarted() {
	sessionsStartedTotal.Inc()
}
