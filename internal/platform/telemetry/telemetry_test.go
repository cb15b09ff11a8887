package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	p := NewProvider("telecare-test")
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/appointments/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(p.requests.WithLabelValues(http.MethodGet, "/appointments/:id", "200"))
	if got != 2 {
		t.Errorf("expected 2 requests on route pattern, got %v", got)
	}
	if v := testutil.ToFloat64(p.activeRequests); v != 0 {
		t.Errorf("expected no active requests, got %v", v)
	}
}

func TestPrometheusHandler(t *testing.T) {
	p := NewProvider("telecare-test")
	p.DomainEvent("appointment", "booked")
	p.SetPoolStats(4, 3, 1)

	e := echo.New()
	e.GET("/metrics", p.PrometheusHandler())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`domain_events_total{domain="appointment",event="booked",service="telecare-test"} 1`,
		`store_pool_connections{service="telecare-test",state="idle"} 3`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
