package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultRefreshInterval = 10 * time.Second

// Run outcomes used as the "outcome" label of runs_total.
const (
	OutcomeCompleted           = "completed"
	OutcomeInsufficientCredits = "insufficient_credits"
	OutcomePermanent           = "permanent"
	OutcomeTransient           = "transient"
	OutcomeNotFound            = "not_found"
)

// Buckets for evaluator calls, which take hundreds of milliseconds to seconds.
var evaluatorBuckets = []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000} //nolint:gochecknoglobals // static bucket layout

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Matching
	runsTotal            *prometheus.CounterVec
	evaluationsCompleted prometheus.Counter
	evaluationErrors     prometheus.Counter
	evaluationCostUSD    prometheus.Counter
	unbilledCostUSD      prometheus.Counter
	evaluatorLatency     prometheus.Histogram
	candidatesFound      prometheus.Histogram
	budgetExceeded       prometheus.Counter
	taskRetries          prometheus.Counter
	tasksDuplicate       prometheus.Counter

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// Storage and cache
	repositoryQueryLatency *prometheus.HistogramVec
	cacheRequests          *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dwell",
		subsystem:        "matcher",
		histogramBuckets: prometheus.DefBuckets,
		refreshInterval:  defaultRefreshInterval,
		constLabels:      map[string]string{},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets, ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "runs_total",
		Help: "Evaluation runs by outcome",
	}, []string{"outcome"})
	m.evaluationsCompleted = m.counter("evaluations_completed_total", "Evaluations scored and committed")
	m.evaluationErrors = m.counter("evaluation_errors_total", "Per-listing evaluation failures recovered inside a run")
	m.evaluationCostUSD = m.counter("evaluation_cost_usd_total", "Realized evaluator spend in USD")
	m.unbilledCostUSD = m.counter("evaluation_unbilled_cost_usd_total", "Evaluator spend on calls that produced no committed evaluation")
	m.evaluatorLatency = m.histogram("evaluator_latency_milliseconds", "Evaluator call latency in milliseconds", evaluatorBuckets)
	m.candidatesFound = m.histogram("candidates_found", "Candidates returned per run", []float64{0, 1, 5, 10, 20, 50, 100})
	m.budgetExceeded = m.counter("budget_exceeded_total", "Runs stopped or trimmed by the spending cap")
	m.taskRetries = m.counter("task_retries_total", "Tasks re-enqueued after a transient failure")
	m.tasksDuplicate = m.counter("tasks_duplicate_total", "Tasks rejected because the user already had one in flight")

	m.queueSize = m.gauge("queue_size", "Tasks waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Queue capacity")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Tasks enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Tasks dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Enqueue attempts that failed")

	m.workerCount = m.gauge("worker_count", "Configured workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a task")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Task processing time in milliseconds", evaluatorBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Tasks that ended in failure")

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_requests_total",
		Help: "HTTP requests by endpoint, method and status",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "http_request_duration_milliseconds",
		Help:    "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.httpErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "http_errors_total",
		Help: "HTTP responses with status >= 400 by endpoint, method and error type",
	}, []string{"endpoint", "method", "error_type"})

	m.repositoryQueryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name:    "repository_query_latency_milliseconds",
		Help:    "Store operation latency in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"operation"})
	m.cacheRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, ConstLabels: m.constLabels,
		Name: "recommendation_cache_requests_total",
		Help: "Recommendation cache lookups by result",
	}, []string{"result"})

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes in use")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Live goroutines")
}

// RecordRun counts a finished run under outcome.
func RecordRun(outcome string) {
	globalManager.runsTotal.WithLabelValues(outcome).Inc()
}

// RecordEvaluation counts one committed evaluation and its cost.
func RecordEvaluation(costUSD float64) {
	globalManager.evaluationsCompleted.Inc()
	if costUSD > 0 {
		globalManager.evaluationCostUSD.Add(costUSD)
	}
}

// RecordUnbilledCost adds evaluator spend that was not billed to a user.
func RecordUnbilledCost(costUSD float64) {
	if costUSD > 0 {
		globalManager.unbilledCostUSD.Add(costUSD)
	}
}

// RecordEvaluationError counts a per-listing failure.
func RecordEvaluationError() {
	globalManager.evaluationErrors.Inc()
}

// RecordEvaluatorLatency records one evaluator call in milliseconds.
func RecordEvaluatorLatency(latencyMs float64) {
	globalManager.evaluatorLatency.Observe(latencyMs)
}

// RecordCandidatesFound records the candidate count of one run.
func RecordCandidatesFound(n int) {
	globalManager.candidatesFound.Observe(float64(n))
}

// RecordBudgetExceeded counts a run limited by its spending cap.
func RecordBudgetExceeded() {
	globalManager.budgetExceeded.Inc()
}

// RecordTaskRetry counts a re-enqueued task.
func RecordTaskRetry() {
	globalManager.taskRetries.Inc()
}

// RecordTaskDuplicate counts a task rejected by in-flight dedupe.
func RecordTaskDuplicate() {
	globalManager.tasksDuplicate.Inc()
}

// UpdateQueueSize sets the queue backlog.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an enqueue.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue counts a dequeue.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records task processing time in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed task.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPError counts an HTTP error response.
func RecordHTTPError(endpoint, method, errorType string) {
	globalManager.httpErrors.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordRepositoryQueryLatency records a store operation in milliseconds.
func RecordRepositoryQueryLatency(operation string, latencyMs float64) {
	globalManager.repositoryQueryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// RecordCacheHit counts a recommendation cache hit.
func RecordCacheHit() {
	globalManager.cacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts a recommendation cache miss.
func RecordCacheMiss() {
	globalManager.cacheRequests.WithLabelValues("miss").Inc()
}

// UpdateSystemMetrics samples memory and goroutine gauges.
func UpdateSystemMetrics() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	globalManager.systemMemoryUsage.Set(float64(ms.HeapInuse))
	globalManager.systemGoroutineCount.Set(float64(runtime.NumGoroutine()))
}

// RunSystemCollector samples system gauges until ctx is done.
func RunSystemCollector(ctx context.Context) {
	ticker := time.NewTicker(globalManager.refreshInterval)
	defer ticker.Stop()
	UpdateSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			UpdateSystemMetrics()
		}
	}
}

// Configure rebuilds the global collectors with opts on a fresh registry.
// Call it at startup, before any recorder or the system collector runs.
func Configure(opts ...Option) {
	registry := prometheus.NewRegistry()
	customRegistry = registry
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// SinceMs returns the milliseconds elapsed since start.
func SinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
