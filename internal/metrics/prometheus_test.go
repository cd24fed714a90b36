package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestRegisterCounter tests the RegisterCounter method of the Collector.
func TestRegisterCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	counter, err := collector.RegisterCounter(ctx, "test_counter", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterCounter(ctx, "test_counter", "label1") //nolint:errcheck

	if err := collector.AddCounter(ctx, "test_counter", 1, "label1"); err != nil {
		t.Fatal(err)
	}

	counterVec, ok := counter.(prometheus.Collector)
	if !ok {
		t.Fatal("counter is not a Collector")
	}
	err = testutil.CollectAndCompare(counterVec, strings.NewReader(`
		# HELP modelguard_test_counter Counter for modelguard_test_counter
		# TYPE modelguard_test_counter counter
		modelguard_test_counter{label1="label1"} 1
	`))
	if err != nil {
		t.Fatal(err)
	}
}

func TestDuplicateRegisterCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	_, err := collector.RegisterCounter(ctx, "duplicate_counter", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterCounter(ctx, "duplicate_counter", "label1") //nolint:errcheck

	_, err = collector.RegisterCounter(ctx, "duplicate_counter", "label1")
	if err == nil || !strings.Contains(err.Error(), "already registered") {
		t.Fatalf("expected registration conflict, got: %v", err)
	}
}

// TestNonExistingCounter tests the AddCounter method of the Collector.
func TestNonExistingCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	if err := collector.AddCounter(ctx, "non_existing_counter", 1, "label1"); err == nil {
		t.Fatal("expected error for non-existing counter")
	}
}

// TestRegisterGauge tests the RegisterGauge method of the Collector.
func TestRegisterGauge(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	gauge, err := collector.RegisterGauge(ctx, "test_gauge", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterGauge(ctx, "test_gauge", "label1") //nolint:errcheck

	gauge.Add(1)
	if err := collector.SetGauge(ctx, "test_gauge", 3, "label1"); err != nil {
		t.Fatal(err)
	}
}

// TestRegisterHistogram tests the RegisterHistogram method of the Collector.
func TestRegisterHistogram(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	_, err := collector.RegisterHistogram(ctx, "test_histogram", "label1")
	if err != nil {
		t.Fatal(err)
	}
	defer collector.UnregisterHistogram(ctx, "test_histogram", "label1") //nolint:errcheck

	if err := collector.ObserveHistogram(ctx, "test_histogram", 2.5, "label1"); err != nil {
		t.Fatal(err)
	}
}

// TestMeasureFunctionExecutionTime tests the MeasureFunctionExecutionTime method of the Collector.
func TestMeasureFunctionExecutionTime(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	stopFunc, err := collector.MeasureFunctionExecutionTime(ctx, "test_function")
	if err != nil {
		t.Fatal(err)
	}
	stopFunc()
}

// TestMetricsHandler tests the MetricsHandler method of the Collector.
func TestMetricsHandler(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	handler := collector.MetricsHandler()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "/metrics", nil)
	if err != nil {
		t.Fatalf("could not create request: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
}

func TestUnregisterNonExistentCounter(t *testing.T) {
	ctx := WithMetrics(context.Background(), "modelguard")
	collector := FromContext(ctx, "modelguard")

	if err := collector.UnregisterCounter(ctx, "non_existent_counter", "label1"); err != nil {
		t.Fatal("expected no error when unregistering non-existent counter")
	}
}
