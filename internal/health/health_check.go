// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/CS196Illinois/FA25-Group8/internal/metrics"
	"github.com/CS196Illinois/FA25-Group8/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 5 * time.Second

// Pinger is anything readiness depends on.
type Pinger interface {
	Ping(ctx context.Context) error
}

type probe struct {
	name   string
	target Pinger
}

// HealthChecker serves /health and /ready. Readiness pings the document
// store and, when configured, the idempotency store.
type HealthChecker struct {
	probes    []probe
	metrics   *metrics.Metrics
	logger    *zap.Logger
	startedAt time.Time
}

// HealthStatus is the probe response body.
type HealthStatus struct {
	Status        string            `json:"status"`
	Timestamp     int64             `json:"timestamp"`
	UptimeSeconds int64             `json:"uptime_seconds,omitempty"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a new health checker. Nil stores and a nil m are skipped.
func NewHealthChecker(
	documentStore store.DocumentStore,
	idempotencyStore store.IdempotencyStore,
	m *metrics.Metrics,
	logger *zap.Logger,
) *HealthChecker {
	h := &HealthChecker{
		metrics:   m,
		logger:    logger,
		startedAt: time.Now(),
	}
	if documentStore != nil {
		h.probes = append(h.probes, probe{name: "document_store", target: documentStore})
	}
	if idempotencyStore != nil {
		h.probes = append(h.probes, probe{name: "idempotency_store", target: idempotencyStore})
	}
	return h
}

// LivenessHandler reports that the process is serving.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, HealthStatus{
		Status:        "alive",
		Timestamp:     time.Now().Unix(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// ReadinessHandler answers 503 while any dependency is unreachable.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks, ready := h.Check(ctx)
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	code := http.StatusOK
	if !ready {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	writeStatus(w, code, status)
}

// Check pings every dependency concurrently and reports per-dependency results.
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, bool) {
	var (
		mu         sync.Mutex
		g          errgroup.Group
		checks     = make(map[string]string, len(h.probes))
		allHealthy = true
	)

	// Failures are collected per dependency, not returned, so one slow
	// dependency never hides the state of the others.
	for _, p := range h.probes {
		g.Go(func() error {
			start := time.Now()
			err := p.target.Ping(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error("health check failed",
					zap.String("dependency", p.name),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				checks[p.name] = "unhealthy: " + err.Error()
				allHealthy = false
				return nil
			}
			checks[p.name] = "healthy"
			return nil
		})
	}
	_ = g.Wait()

	if h.metrics != nil {
		h.metrics.SetHealthStatus(allHealthy)
	}
	return checks, allHealthy
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
