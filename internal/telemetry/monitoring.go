package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Name        string            `json:"name"`
	Status      HealthStatus      `json:"status"`
	Message     string            `json:"message"`
	LastChecked time.Time         `json:"last_checked"`
	Duration    time.Duration     `json:"duration"`
	Details     map[string]string `json:"details,omitempty"`
}

// StatusFunc supplies an application status document for /v0/status,
// typically the tuning studies recorded so far.
type StatusFunc func(ctx context.Context) (any, error)

// MonitoringServer exposes health, metrics, and study status over HTTP.
type MonitoringServer struct {
	collector    *Collector
	statusFn     StatusFunc
	healthChecks map[string]func() HealthCheck
	server       *http.Server
}

// NewMonitoringServer creates a monitoring server on addr. statusFn may
// be nil, in which case /v0/status reports an empty document.
func NewMonitoringServer(addr string, collector *Collector, statusFn StatusFunc) *MonitoringServer {
	ms := &MonitoringServer{
		collector:    collector,
		statusFn:     statusFn,
		healthChecks: make(map[string]func() HealthCheck),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v0/health", ms.healthHandler)
	mux.HandleFunc("/v0/metrics", ms.metricsHandler)
	mux.HandleFunc("/v0/status", ms.statusHandler)

	ms.server = &http.Server{Addr: addr, Handler: mux}
	return ms
}

func (ms *MonitoringServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := ms.runHealthChecks()

	overallStatus := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			overallStatus = HealthStatusUnhealthy
			break
		} else if check.Status == HealthStatusDegraded {
			overallStatus = HealthStatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now(),
		"checks":    checks,
	})
}

// metricsHandler renders the buffered metrics in Prometheus text format.
func (ms *MonitoringServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := ms.collector.Metrics()
	w.Header().Set("Content-Type", "text/plain")
	for _, m := range metrics {
		labelStr := ""
		if len(m.Labels) > 0 {
			pairs := make([]string, 0, len(m.Labels))
			for k, v := range m.Labels {
				pairs = append(pairs, fmt.Sprintf(`%s=%q`, k, v))
			}
			sort.Strings(pairs)
			labelStr = "{" + strings.Join(pairs, ",") + "}"
		}
		fmt.Fprintf(w, "# TYPE %s %s\n", m.Name, m.Type)
		fmt.Fprintf(w, "%s%s %f %d\n", m.Name, labelStr, m.Value, m.Timestamp.Unix())
	}
}

func (ms *MonitoringServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if ms.statusFn == nil {
		json.NewEncoder(w).Encode(map[string]any{})
		return
	}
	doc, err := ms.statusFn(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(doc)
}

// RegisterHealthCheck registers a health check function
func (ms *MonitoringServer) RegisterHealthCheck(name string, checkFn func() HealthCheck) {
	ms.healthChecks[name] = checkFn
}

func (ms *MonitoringServer) runHealthChecks() []HealthCheck {
	var checks []HealthCheck
	for _, checkFn := range ms.healthChecks {
		start := time.Now()
		check := checkFn()
		check.Duration = time.Since(start)
		check.LastChecked = time.Now()
		checks = append(checks, check)
	}
	return checks
}

// Start starts the monitoring server and blocks until it stops.
func (ms *MonitoringServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("Starting monitoring server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the monitoring server
func (ms *MonitoringServer) Shutdown(ctx context.Context) error {
	if ms.server != nil {
		return ms.server.Shutdown(ctx)
	}
	return nil
}

// DefaultHealthChecks returns the built-in process health checks.
func DefaultHealthChecks() map[string]func() HealthCheck {
	return map[string]func() HealthCheck{
		"memory": func() HealthCheck {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			heapMB := float64(m.HeapAlloc) / (1024 * 1024)
			status := HealthStatusHealthy
			message := fmt.Sprintf("Heap memory: %.2f MB", heapMB)
			if heapMB > 1000 {
				status = HealthStatusDegraded
				message = fmt.Sprintf("High memory usage: %.2f MB", heapMB)
			}
			if heapMB > 2000 {
				status = HealthStatusUnhealthy
				message = fmt.Sprintf("Critical memory usage: %.2f MB", heapMB)
			}
			return HealthCheck{
				Name:    "memory",
				Status:  status,
				Message: message,
				Details: map[string]string{
					"heap_mb":    fmt.Sprintf("%.2f", heapMB),
					"goroutines": fmt.Sprintf("%d", runtime.NumGoroutine()),
				},
			}
		},
		"goroutines": func() HealthCheck {
			count := runtime.NumGoroutine()
			status := HealthStatusHealthy
			message := fmt.Sprintf("Goroutines: %d", count)
			if count > 1000 {
				status = HealthStatusDegraded
				message = fmt.Sprintf("High goroutine count: %d", count)
			}
			if count > 5000 {
				status = HealthStatusUnhealthy
				message = fmt.Sprintf("Critical goroutine count: %d", count)
			}
			return HealthCheck{
				Name:    "goroutines",
				Status:  status,
				Message: message,
				Details: map[string]string{"count": fmt.Sprintf("%d", count)},
			}
		},
	}
}
