package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/focusroom/focusd/internal/logging"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))

	m := &HTTPMetrics{
		meter:  mp.Meter(httpInstrumentationName),
		logger: logging.NewNop(),
	}
	m.init()

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/sessions/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	for _, target := range []string{"/api/v1/sessions/a", "/api/v1/sessions/b", "/api/v1/sessions/missing", "/health"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	foundRequests := false
	foundDuration := false
	foundResponseSize := false

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "focusd.http.requests_total":
				foundRequests = true
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", md.Data)
				}
				counts := map[attribute.Distinct]int64{}
				total := int64(0)
				for _, dp := range sum.DataPoints {
					counts[dp.Attributes.Equivalent()] += dp.Value
					total += dp.Value
				}
				if total != 4 {
					t.Errorf("expected 4 requests, got %d", total)
				}
				ok200 := attribute.NewSet(
					attribute.String("method", http.MethodGet),
					attribute.String("endpoint", "/api/v1/sessions/:id"),
					attribute.Int("status", http.StatusOK),
				)
				if got := counts[ok200.Equivalent()]; got != 2 {
					t.Errorf("expected 2 ok requests on the route template, got %d", got)
				}
				notFound := attribute.NewSet(
					attribute.String("method", http.MethodGet),
					attribute.String("endpoint", "/api/v1/sessions/:id"),
					attribute.Int("status", http.StatusNotFound),
				)
				if got := counts[notFound.Equivalent()]; got != 1 {
					t.Errorf("expected the error status to be recorded, got %d", got)
				}
			case "focusd.http.request_duration_seconds":
				foundDuration = true
				if hist, ok := md.Data.(metricdata.Histogram[float64]); ok {
					total := uint64(0)
					for _, dp := range hist.DataPoints {
						total += dp.Count
					}
					if total != 4 {
						t.Errorf("expected 4 duration recordings, got %d", total)
					}
				}
			case "focusd.http.response_size_bytes":
				foundResponseSize = true
			}
		}
	}

	if !foundRequests {
		t.Error("requests counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundResponseSize {
		t.Error("response size histogram not found")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/*", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/sessions/:id", "/api/v1/sessions/:id"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
