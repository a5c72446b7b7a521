// Package metrics provides Prometheus metrics for the study session service.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	txnAttempts     *prometheus.CounterVec
	txnConflicts    *prometheus.CounterVec
	txnOutcomes     *prometheus.CounterVec
	txnRetries      *prometheus.HistogramVec
	businessRejects *prometheus.CounterVec
	idempotentHits  *prometheus.CounterVec

	healthStatus prometheus.Gauge
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// NewMetrics creates and registers Prometheus metrics. Registration happens
// once per process; later calls return the same instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "route", "status"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studysession_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				},
				[]string{"method", "route", "status"},
			),
			requestsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "studysession_http_requests_in_flight",
					Help: "Number of HTTP requests currently being processed",
				},
			),
			txnAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_txn_attempts_total",
					Help: "Read-mutate-write attempts made by the transaction executor",
				},
				[]string{"collection"},
			),
			txnConflicts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_txn_conflicts_total",
					Help: "Conditional puts rejected because the document version moved",
				},
				[]string{"collection"},
			),
			txnOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_txn_outcomes_total",
					Help: "Finished transactions by outcome",
				},
				[]string{"collection", "outcome"},
			),
			txnRetries: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "studysession_txn_attempts_per_run",
					Help:    "Attempts needed per transaction run",
					Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
				},
				[]string{"collection"},
			),
			businessRejects: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_business_rejections_total",
					Help: "Operations rejected by a business rule",
				},
				[]string{"operation", "code"},
			),
			idempotentHits: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "studysession_idempotent_replays_total",
					Help: "Write requests answered from a recorded idempotent response",
				},
				[]string{"operation"},
			),
			healthStatus: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "studysession_health_status",
					Help: "Health status of the service (1 = healthy, 0 = unhealthy)",
				},
			),
		}
	})

	return globalMetrics
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests counter.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests counter.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordTxnAttempt counts one read-mutate-write attempt.
func (m *Metrics) RecordTxnAttempt(collection string) {
	m.txnAttempts.WithLabelValues(collection).Inc()
}

// RecordTxnConflict counts one rejected conditional put.
func (m *Metrics) RecordTxnConflict(collection string) {
	m.txnConflicts.WithLabelValues(collection).Inc()
}

// RecordTxnOutcome records how a transaction run ended and how many attempts it took.
func (m *Metrics) RecordTxnOutcome(collection, outcome string, attempts int) {
	m.txnOutcomes.WithLabelValues(collection, outcome).Inc()
	m.txnRetries.WithLabelValues(collection).Observe(float64(attempts))
}

// RecordBusinessRejection counts a business-rule rejection.
func (m *Metrics) RecordBusinessRejection(operation, code string) {
	m.businessRejects.WithLabelValues(operation, code).Inc()
}

// RecordIdempotentReplay counts a replayed write response.
func (m *Metrics) RecordIdempotentReplay(operation string) {
	m.idempotentHits.WithLabelValues(operation).Inc()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start starts the metrics server.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
