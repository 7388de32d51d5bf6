package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/samcharles93/hearth/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	tel, err := Setup(context.Background(), config.TelemetryConfig{}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if tel.Handler != nil {
		t.Fatal("disabled telemetry must not expose a metrics handler")
	}
	if tel.MeterProvider == nil || tel.TracerProvider == nil {
		t.Fatal("expected no-op providers")
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetupServesPrometheusMetrics(t *testing.T) {
	tel, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, ServiceName: "hearth-test"}, nil)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	if tel.Handler == nil {
		t.Fatal("expected a metrics handler")
	}

	counter, err := tel.MeterProvider.Meter("test").Int64Counter("hearth.test.requests")
	if err != nil {
		t.Fatalf("Int64Counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	if rec.Code != 200 {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(string(body), "hearth_test_requests") {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}

	// A second setup in the same process must not collide.
	again, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("second Setup: %v", err)
	}
	_ = again.Shutdown(context.Background())
}
