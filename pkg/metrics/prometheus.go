// Package metrics provides Prometheus metrics for the rhythm leaderboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes used as the "outcome" label.
const (
	OutcomeImproved     = "improved"
	OutcomeUnchanged    = "unchanged"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
	OutcomeUnconfigured = "unconfigured"
)

// Manager manages all Prometheus metrics for the leaderboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Submissions
	submissions   *prometheus.CounterVec
	submitLatency prometheus.Histogram

	// Store
	storeOpLatency *prometheus.HistogramVec
	storeErrors    *prometheus.CounterVec
	storeConflicts *prometheus.CounterVec
	partitions     prometheus.Gauge
	recordsTotal   prometheus.Gauge

	// Prune
	pruneRuns     prometheus.Counter
	pruneDeleted  prometheus.Counter
	pruneFailures prometheus.Counter
	pruneLatency  prometheus.Histogram

	// Prune queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueDequeued     prometheus.Counter
	queueDropped      prometheus.Counter
	queueCoalesced    prometheus.Counter
	workerActiveCount prometheus.Gauge
	workerErrors      prometheus.Counter
	workerJobLatency  prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "rhythm",
		subsystem:        "leaderboard",
		histogramBuckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.submissions = m.counterVec("submissions_total", "Score submissions by outcome", "outcome")
	m.submitLatency = m.histogram("submit_latency_milliseconds", "End-to-end submit latency in milliseconds", m.histogramBuckets)

	m.storeOpLatency = m.histogramVec("store_op_latency_milliseconds", "Store operation latency in milliseconds", "backend", "op")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "backend", "op")
	m.storeConflicts = m.counterVec("store_conflicts_total", "Optimistic write conflicts that were retried", "backend")
	m.partitions = m.gauge("partitions", "Number of non-empty (track, difficulty) partitions")
	m.recordsTotal = m.gauge("records_total", "Number of stored best records across all partitions")

	m.pruneRuns = m.counter("prune_runs_total", "Completed partition prunes")
	m.pruneDeleted = m.counter("prune_deleted_total", "Records removed by pruning")
	m.pruneFailures = m.counter("prune_failures_total", "Partition prunes that failed")
	m.pruneLatency = m.histogram("prune_latency_milliseconds", "Partition prune latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("prune_queue_size", "Pending prune jobs")
	m.queueCapacity = m.gauge("prune_queue_capacity", "Maximum pending prune jobs")
	m.queueEnqueued = m.counter("prune_queue_enqueued_total", "Prune jobs enqueued")
	m.queueDequeued = m.counter("prune_queue_dequeued_total", "Prune jobs dequeued")
	m.queueDropped = m.counter("prune_queue_dropped_total", "Prune jobs dropped because the queue was full")
	m.queueCoalesced = m.counter("prune_queue_coalesced_total", "Prune requests folded into an already pending job")
	m.workerActiveCount = m.gauge("prune_worker_active_count", "Prune workers currently running")
	m.workerErrors = m.counter("prune_worker_errors_total", "Prune worker job failures")
	m.workerJobLatency = m.histogram("prune_worker_job_latency_milliseconds", "Time from dequeue to job completion", m.histogramBuckets)

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordSubmission counts one submission with the given outcome label.
func RecordSubmission(outcome string) {
	globalManager.submissions.WithLabelValues(outcome).Inc()
}

// RecordSubmitLatency records end-to-end submit latency.
func RecordSubmitLatency(latencyMs float64) {
	globalManager.submitLatency.Observe(latencyMs)
}

// Store Metrics Functions.

// RecordStoreOp records the latency of one store call.
func RecordStoreOp(backend, op string, latencyMs float64) {
	globalManager.storeOpLatency.WithLabelValues(backend, op).Observe(latencyMs)
}

// RecordStoreError counts a failed store call.
func RecordStoreError(backend, op string) {
	globalManager.storeErrors.WithLabelValues(backend, op).Inc()
}

// RecordStoreConflict counts a retried optimistic write.
func RecordStoreConflict(backend string) {
	globalManager.storeConflicts.WithLabelValues(backend).Inc()
}

// UpdatePartitions sets the number of partitions.
func UpdatePartitions(count int) {
	globalManager.partitions.Set(float64(count))
}

// UpdateRecordsTotal sets the number of stored records.
func UpdateRecordsTotal(count int) {
	globalManager.recordsTotal.Set(float64(count))
}

// Prune Metrics Functions.

// RecordPruneRun records a successful prune that removed deleted records.
func RecordPruneRun(deleted int, latencyMs float64) {
	globalManager.pruneRuns.Inc()
	globalManager.pruneDeleted.Add(float64(deleted))
	globalManager.pruneLatency.Observe(latencyMs)
}

// RecordPruneFailure counts a failed prune.
func RecordPruneFailure() {
	globalManager.pruneFailures.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueDropped counts a job rejected by a full queue.
func RecordQueueDropped() {
	globalManager.queueDropped.Inc()
}

// RecordQueueCoalesced counts a request folded into a pending job.
func RecordQueueCoalesced() {
	globalManager.queueCoalesced.Inc()
}

// Worker Metrics Functions.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWorkerJobLatency records how long a worker spent on one job.
func RecordWorkerJobLatency(latencyMs float64) {
	globalManager.workerJobLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
