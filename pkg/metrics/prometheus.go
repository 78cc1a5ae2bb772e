// Package metrics provides Prometheus metrics for the relay bot.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the bot.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Relay connection
	framesReceived   *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	reconnects       prometheus.Counter
	connectionState  prometheus.Gauge
	reconnectAttempt prometheus.Gauge
	activeListeners  prometheus.Gauge
	subscriptions    *prometheus.CounterVec

	// Classifier and router
	eventsHandled  *prometheus.CounterVec
	eventsDup      prometheus.Counter
	commands       *prometheus.CounterVec
	decryptErrors  prometheus.Counter
	handleLatency  prometheus.Histogram
	repliesSent    *prometheus.CounterVec
	repliesFailed  *prometheus.CounterVec
	collabLatency  *prometheus.HistogramVec
	collabFailures *prometheus.CounterVec

	// Fan-out engine
	fanoutKeys         *prometheus.CounterVec
	fanoutBatchLatency prometheus.Histogram
	collectedEvents    prometheus.Counter

	// HTTP ops surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
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

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "askbot",
		subsystem:        "bot",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	return m.metricPrefix + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
		Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	latencyMs := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000}

	m.framesReceived = m.counterVec("relay_frames_received_total", "Relay frames received, by frame type", "type")
	m.framesDropped = m.counterVec("relay_frames_dropped_total", "Relay frames dropped, by reason", "reason")
	m.reconnects = m.counter("relay_reconnects_total", "Reconnect attempts scheduled after a connection loss")
	m.connectionState = m.gauge("relay_connection_state", "Connection state: 0 disconnected, 1 connecting, 2 connected, 3 closing")
	m.reconnectAttempt = m.gauge("relay_reconnect_attempt", "Current value of the reconnect attempt counter")
	m.activeListeners = m.gauge("relay_active_listeners", "Open ad-hoc subscriptions on the relay connection")
	m.subscriptions = m.counterVec("relay_subscriptions_total", "Subscription lifecycle transitions", "transition")

	m.eventsHandled = m.counterVec("events_handled_total", "Inbound events by classifier outcome", "outcome")
	m.eventsDup = m.counter("events_duplicate_total", "Inbound events dropped as duplicates")
	m.commands = m.counterVec("commands_total", "Dispatched commands, by name", "command")
	m.decryptErrors = m.counter("decrypt_errors_total", "Direct messages that could not be opened")
	m.handleLatency = m.histogram("event_handle_latency_milliseconds", "Time from dequeue to reply for one event", latencyMs)
	m.repliesSent = m.counterVec("replies_sent_total", "Replies transmitted, by kind", "kind")
	m.repliesFailed = m.counterVec("replies_failed_total", "Replies aborted, by reason", "reason")
	m.collabLatency = m.histogramVec("collaborator_latency_milliseconds", "External collaborator call latency", latencyMs, "collaborator")
	m.collabFailures = m.counterVec("collaborator_failures_total", "External collaborator failures", "collaborator")

	m.fanoutKeys = m.counterVec("fanout_keys_total", "Fan-out keys by resolution", "outcome")
	m.fanoutBatchLatency = m.histogram("fanout_batch_latency_milliseconds", "Wall-clock time per fan-out batch", latencyMs)
	m.collectedEvents = m.counter("collected_events_total", "Events gathered by collect queries")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request latency in milliseconds",
		[]float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500}, "endpoint", "method", "status_code")

	m.queueSize = m.gauge("queue_size", "Current number of events waiting for a worker")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (0.0 to 1.0)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total events enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total events dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total enqueue failures")

	m.workerCount = m.gauge("worker_count", "Configured number of workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently handling an event")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker processing latency", latencyMs)
	m.workerErrorRate = m.counter("worker_errors_total", "Total worker errors")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "HTTP errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Relay metrics.

// RecordFrameReceived counts an inbound relay frame by type (EVENT, EOSE, ...).
func RecordFrameReceived(frameType string) {
	globalManager.framesReceived.WithLabelValues(frameType).Inc()
}

// RecordFrameDropped counts an inbound frame discarded before dispatch.
func RecordFrameDropped(reason string) {
	globalManager.framesDropped.WithLabelValues(reason).Inc()
}

// RecordReconnect counts a scheduled reconnect.
func RecordReconnect() {
	globalManager.reconnects.Inc()
}

// UpdateConnectionState sets the connection state gauge.
func UpdateConnectionState(state int) {
	globalManager.connectionState.Set(float64(state))
}

// UpdateReconnectAttempt sets the reconnect attempt gauge.
func UpdateReconnectAttempt(attempt int) {
	globalManager.reconnectAttempt.Set(float64(attempt))
}

// UpdateActiveListeners sets the number of open ad-hoc subscriptions.
func UpdateActiveListeners(count int) {
	globalManager.activeListeners.Set(float64(count))
}

// RecordSubscription counts a subscription lifecycle transition (opened, closed).
func RecordSubscription(transition string) {
	globalManager.subscriptions.WithLabelValues(transition).Inc()
}

// Router metrics.

// RecordEventHandled counts an inbound event by classifier outcome.
func RecordEventHandled(outcome string) {
	globalManager.eventsHandled.WithLabelValues(outcome).Inc()
}

// RecordEventDuplicate counts an inbound event dropped as a duplicate.
func RecordEventDuplicate() {
	globalManager.eventsDup.Inc()
}

// RecordCommand counts a dispatched command.
func RecordCommand(command string) {
	globalManager.commands.WithLabelValues(command).Inc()
}

// RecordDecryptError counts a direct message that could not be opened.
func RecordDecryptError() {
	globalManager.decryptErrors.Inc()
}

// RecordHandleLatency records end-to-end handling latency in milliseconds.
func RecordHandleLatency(latencyMs float64) {
	globalManager.handleLatency.Observe(latencyMs)
}

// RecordReplySent counts a transmitted reply ("public" or "private").
func RecordReplySent(kind string) {
	globalManager.repliesSent.WithLabelValues(kind).Inc()
}

// RecordReplyFailed counts an aborted reply.
func RecordReplyFailed(reason string) {
	globalManager.repliesFailed.WithLabelValues(reason).Inc()
}

// RecordCollaboratorLatency records an external collaborator call.
func RecordCollaboratorLatency(collaborator string, latencyMs float64) {
	globalManager.collabLatency.WithLabelValues(collaborator).Observe(latencyMs)
}

// RecordCollaboratorFailure counts an external collaborator failure.
func RecordCollaboratorFailure(collaborator string) {
	globalManager.collabFailures.WithLabelValues(collaborator).Inc()
}

// Fan-out metrics.

// RecordFanoutKey counts a fan-out key resolution ("found", "absent").
func RecordFanoutKey(outcome string) {
	globalManager.fanoutKeys.WithLabelValues(outcome).Inc()
}

// RecordFanoutBatchLatency records the wall-clock time of one batch.
func RecordFanoutBatchLatency(latencyMs float64) {
	globalManager.fanoutBatchLatency.Observe(latencyMs)
}

// RecordCollectedEvents adds to the collected events counter.
func RecordCollectedEvents(n int) {
	globalManager.collectedEvents.Add(float64(n))
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// Worker metrics.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerActive adjusts the number of busy workers by delta.
func AddWorkerActive(delta int) {
	globalManager.workerActiveCount.Add(float64(delta))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System metrics.

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
