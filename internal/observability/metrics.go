package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	upstreamDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets         = []float64{100, 1024, 10240, 102400, 1048576}
	batchSizeBuckets        = []float64{1, 5, 10, 50, 100, 500, 1000}
)

// Metrics holds all Prometheus metric instruments for the service. Recording
// helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Workflow metrics
	WorkflowOperationsTotal   *prometheus.CounterVec
	WorkflowOperationDuration *prometheus.HistogramVec
	WorkflowTransitionsTotal  *prometheus.CounterVec
	WorkflowCreatesTotal      *prometheus.CounterVec
	WorkflowUnknownStatus     prometheus.Counter
	AuditEntriesTotal         *prometheus.CounterVec
	BulkAssignItemsTotal      *prometheus.CounterVec
	BulkAssignBatchSize       prometheus.Histogram

	// Catalog metrics
	CatalogRequestsTotal       *prometheus.CounterVec
	CatalogRequestDuration     prometheus.Histogram
	CatalogCircuitBreakerState prometheus.Gauge
	CatalogRetriesTotal        prometheus.Counter

	// Idempotency metrics
	IdempotencyReplaysTotal prometheus.Counter
	IdempotencyMissesTotal  prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Workflows
		WorkflowOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_workflow_operations_total",
			Help: "Total number of workflow engine operations.",
		}, []string{"operation", "outcome"}),
		WorkflowOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copydesk_workflow_operation_duration_seconds",
			Help:    "Workflow engine operation duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}, []string{"operation"}),
		WorkflowTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_workflow_transitions_total",
			Help: "Total number of workflow status transitions.",
		}, []string{"from", "to"}),
		WorkflowCreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_workflow_creates_total",
			Help: "Total number of workflow create attempts.",
		}, []string{"result"}),
		WorkflowUnknownStatus: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copydesk_workflow_unknown_status_total",
			Help: "Total number of updates on workflows holding an unrecognized status.",
		}),
		AuditEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_audit_entries_total",
			Help: "Total number of audit entries written.",
		}, []string{"audit_type"}),
		BulkAssignItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_bulk_assign_items_total",
			Help: "Total number of workflows processed by bulk assignment.",
		}, []string{"result"}),
		BulkAssignBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copydesk_bulk_assign_batch_size",
			Help:    "Number of workflows selected per bulk assignment.",
			Buckets: batchSizeBuckets,
		}),

		// Catalog
		CatalogRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copydesk_catalog_requests_total",
			Help: "Total number of style catalog requests.",
		}, []string{"status"}),
		CatalogRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copydesk_catalog_request_duration_seconds",
			Help:    "Style catalog request duration in seconds.",
			Buckets: upstreamDurationBuckets,
		}),
		CatalogCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copydesk_catalog_circuit_breaker_state",
			Help: "Catalog circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		CatalogRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copydesk_catalog_retries_total",
			Help: "Total number of style catalog request retries.",
		}),

		// Idempotency
		IdempotencyReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copydesk_idempotency_replays_total",
			Help: "Total number of responses replayed from the idempotency store.",
		}),
		IdempotencyMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copydesk_idempotency_misses_total",
			Help: "Total number of idempotency keys seen for the first time.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Workflows
		m.WorkflowOperationsTotal,
		m.WorkflowOperationDuration,
		m.WorkflowTransitionsTotal,
		m.WorkflowCreatesTotal,
		m.WorkflowUnknownStatus,
		m.AuditEntriesTotal,
		m.BulkAssignItemsTotal,
		m.BulkAssignBatchSize,
		// Catalog
		m.CatalogRequestsTotal,
		m.CatalogRequestDuration,
		m.CatalogCircuitBreakerState,
		m.CatalogRetriesTotal,
		// Idempotency
		m.IdempotencyReplaysTotal,
		m.IdempotencyMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordWorkflowOperation records one engine operation and its outcome
// ("ok" or an error code).
func (m *Metrics) RecordWorkflowOperation(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowOperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.WorkflowOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWorkflowTransition records a status change.
func (m *Metrics) RecordWorkflowTransition(from, to string) {
	if m == nil {
		return
	}
	m.WorkflowTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordWorkflowCreate records a create attempt with its result.
func (m *Metrics) RecordWorkflowCreate(result string) {
	if m == nil {
		return
	}
	m.WorkflowCreatesTotal.WithLabelValues(result).Inc()
}

// RecordUnknownStatus records an update on a workflow whose stored status is
// not recognized.
func (m *Metrics) RecordUnknownStatus() {
	if m == nil {
		return
	}
	m.WorkflowUnknownStatus.Inc()
}

// RecordAuditEntry records a written audit entry.
func (m *Metrics) RecordAuditEntry(auditType string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(auditType).Inc()
}

// RecordBulkAssign records the outcome of one bulk assignment.
func (m *Metrics) RecordBulkAssign(selected, updated, failed int) {
	if m == nil {
		return
	}
	m.BulkAssignBatchSize.Observe(float64(selected))
	m.BulkAssignItemsTotal.WithLabelValues("updated").Add(float64(updated))
	m.BulkAssignItemsTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordCatalogRequest records a style catalog request.
func (m *Metrics) RecordCatalogRequest(status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.CatalogRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	m.CatalogRequestDuration.Observe(duration.Seconds())
}

// SetCatalogCircuitBreakerState sets the catalog circuit breaker state.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCatalogCircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.CatalogCircuitBreakerState.Set(state)
}

// RecordCatalogRetry records a catalog request retry.
func (m *Metrics) RecordCatalogRetry() {
	if m == nil {
		return
	}
	m.CatalogRetriesTotal.Inc()
}

// RecordIdempotencyReplay records a response served from the idempotency store.
func (m *Metrics) RecordIdempotencyReplay() {
	if m == nil {
		return
	}
	m.IdempotencyReplaysTotal.Inc()
}

// RecordIdempotencyMiss records a first-seen idempotency key.
func (m *Metrics) RecordIdempotencyMiss() {
	if m == nil {
		return
	}
	m.IdempotencyMissesTotal.Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		if pathPattern == "" {
			pathPattern = r.URL.Path
		}
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
