package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the rollover caller
type PrometheusMetrics struct {
	// Invocation metrics
	AttemptsTotal          *prometheus.CounterVec
	AttemptDuration        *prometheus.HistogramVec
	AttemptsInFlight       prometheus.Gauge
	SkippedFiringsTotal    prometheus.Counter
	LastSuccessTimestamp   prometheus.Gauge
	LastFailureTimestamp   prometheus.Gauge
	ConnectivityChecks     *prometheus.CounterVec
	LatestBlock            prometheus.Gauge
	ConfirmedGasUsed       prometheus.Histogram
	NotificationsSentTotal *prometheus.CounterVec

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them on reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_attempts_total",
				Help: "Total number of rollover invocations by outcome",
			},
			[]string{"status"},
		),

		AttemptDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollover_attempt_duration_seconds",
				Help:    "Time from submission to confirmation or failure",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		AttemptsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_attempts_in_flight",
				Help: "Number of rollover invocations currently running",
			},
		),

		SkippedFiringsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rollover_skipped_firings_total",
				Help: "Scheduled firings skipped because an invocation was still running",
			},
		),

		LastSuccessTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_last_success_timestamp_seconds",
				Help: "Unix time of the last confirmed rollover",
			},
		),

		LastFailureTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_last_failure_timestamp_seconds",
				Help: "Unix time of the last failed rollover",
			},
		),

		ConnectivityChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_connectivity_checks_total",
				Help: "Connectivity checks against the RPC endpoint by outcome",
			},
			[]string{"status"},
		),

		LatestBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_latest_block",
				Help: "Latest block number observed on the RPC endpoint",
			},
		),

		ConfirmedGasUsed: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rollover_gas_used",
				Help:    "Gas used by confirmed rollover transactions",
				Buckets: prometheus.ExponentialBuckets(21000, 2, 10),
			},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_notifications_total",
				Help: "Attempt notifications by channel and outcome",
			},
			[]string{"channel", "status"},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_connection_errors_total",
				Help: "Total number of connection errors to the RPC endpoint",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_rpc_requests_total",
				Help: "Total number of RPC requests made to the node",
			},
			[]string{"endpoint", "method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollover_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to the node",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_database_operations_total",
				Help: "Total number of attempt history database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollover_database_operation_duration_seconds",
				Help:    "Duration of attempt history database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollover_http_requests_total",
				Help: "Total number of HTTP requests received",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rollover_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rollover_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rollover_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordAttempt records a finished invocation
func (m *PrometheusMetrics) RecordAttempt(status string, finishedAt time.Time, duration time.Duration) {
	m.AttemptsTotal.WithLabelValues(status).Inc()
	m.AttemptDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "success" {
		m.LastSuccessTimestamp.Set(float64(finishedAt.Unix()))
	} else {
		m.LastFailureTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// RecordGasUsed records the gas consumed by a confirmed transaction
func (m *PrometheusMetrics) RecordGasUsed(gas uint64) {
	m.ConfirmedGasUsed.Observe(float64(gas))
}

// AttemptStarted increments the in-flight gauge
func (m *PrometheusMetrics) AttemptStarted() {
	m.AttemptsInFlight.Inc()
}

// AttemptFinished decrements the in-flight gauge
func (m *PrometheusMetrics) AttemptFinished() {
	m.AttemptsInFlight.Dec()
}

// RecordSkippedFiring records a firing dropped by the overlap guard
func (m *PrometheusMetrics) RecordSkippedFiring() {
	m.SkippedFiringsTotal.Inc()
}

// RecordConnectivityCheck records the outcome of a block number probe
func (m *PrometheusMetrics) RecordConnectivityCheck(status string) {
	m.ConnectivityChecks.WithLabelValues(status).Inc()
}

// UpdateLatestBlock updates the latest observed block number
func (m *PrometheusMetrics) UpdateLatestBlock(blockNumber uint64) {
	m.LatestBlock.Set(float64(blockNumber))
}

// RecordNotification records an attempt notification delivery
func (m *PrometheusMetrics) RecordNotification(channel, status string) {
	m.NotificationsSentTotal.WithLabelValues(channel, status).Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(endpoint, method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}
