package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCollectorRecordsMetrics(t *testing.T) {
	c := NewCollector(true)
	defer c.Shutdown()

	c.Counter("jobs_submitted", 1, map[string]string{"backend": "local"})
	c.Gauge("feasible_population", 12, nil)
	c.Timer("trial_duration", 1500*time.Millisecond, nil)

	metrics := c.Metrics()
	if len(metrics) != 3 {
		t.Fatalf("expected 3 metrics, got %d", len(metrics))
	}
	if metrics[0].Type != Counter || metrics[0].Name != "jobs_submitted" {
		t.Errorf("unexpected first metric: %+v", metrics[0])
	}
	if metrics[2].Type != Timer || metrics[2].Value != 1500 || metrics[2].Unit != "ms" {
		t.Errorf("timer not recorded in ms: %+v", metrics[2])
	}

	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(c.Metrics()) != 0 {
		t.Errorf("flush should drain the buffer")
	}
}

func TestDisabledCollectorDropsMetrics(t *testing.T) {
	c := NewCollector(false)
	c.Counter("x", 1, nil)
	c.Gauge("y", 2, nil)
	if len(c.Metrics()) != 0 {
		t.Fatalf("disabled collector kept metrics")
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	c := NewCollector(true)
	defer c.Shutdown()
	c.Counter("trials_completed", 7, map[string]string{"mode": "fi2pop"})

	ms := NewMonitoringServer(":0", c, func(ctx context.Context) (any, error) {
		return map[string]any{"studies": []string{"s1"}}, nil
	})
	for name, check := range DefaultHealthChecks() {
		ms.RegisterHealthCheck(name, check)
	}

	// health
	rr := httptest.NewRecorder()
	ms.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/v0/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status %d", rr.Code)
	}
	var health struct {
		Status HealthStatus  `json:"status"`
		Checks []HealthCheck `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != HealthStatusHealthy || len(health.Checks) != 2 {
		t.Errorf("unexpected health document: %+v", health)
	}

	// metrics
	rr = httptest.NewRecorder()
	ms.metricsHandler(rr, httptest.NewRequest(http.MethodGet, "/v0/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE trials_completed counter") {
		t.Errorf("metrics output missing type line:\n%s", body)
	}
	if !strings.Contains(body, `trials_completed{mode="fi2pop"}`) {
		t.Errorf("metrics output missing labels:\n%s", body)
	}

	// status
	rr = httptest.NewRecorder()
	ms.statusHandler(rr, httptest.NewRequest(http.MethodGet, "/v0/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "s1") {
		t.Errorf("status document missing studies: %s", rr.Body.String())
	}
}

func TestMonitoringStatusWithoutFunc(t *testing.T) {
	c := NewCollector(false)
	ms := NewMonitoringServer(":0", c, nil)
	rr := httptest.NewRecorder()
	ms.statusHandler(rr, httptest.NewRequest(http.MethodGet, "/v0/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	if strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Errorf("expected empty document, got %s", rr.Body.String())
	}
}

func TestUnhealthyCheckDegradesEndpoint(t *testing.T) {
	c := NewCollector(false)
	ms := NewMonitoringServer(":0", c, nil)
	ms.RegisterHealthCheck("store", func() HealthCheck {
		return HealthCheck{Name: "store", Status: HealthStatusUnhealthy, Message: "db gone"}
	})
	rr := httptest.NewRecorder()
	ms.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/v0/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy check should yield 503, got %d", rr.Code)
	}
}
