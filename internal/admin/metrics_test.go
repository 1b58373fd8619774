package admin

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestMetricsObserveRequestIncrementsCounterAndHistogram(t *testing.T) {
	m := newMetrics()
	m.observeRequest("gpt-test", "ok", 0.25)
	m.observeRequest("gpt-test", "error", 0.5)

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var foundCounter, foundHistogram bool
	for _, fam := range families {
		switch fam.GetName() {
		case "arenabridge_requests_total":
			foundCounter = true
			if got := sumCounterValues(fam); got != 2 {
				t.Fatalf("expected 2 total requests, got %v", got)
			}
		case "arenabridge_request_duration_seconds":
			foundHistogram = true
		}
	}
	if !foundCounter || !foundHistogram {
		t.Fatalf("expected both counter and histogram families present, counter=%v histogram=%v", foundCounter, foundHistogram)
	}
}

func TestMetricsSetPoolGauges(t *testing.T) {
	m := newMetrics()
	m.setPoolGauges("gpt-test", 3, 1, 0)

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	for _, fam := range families {
		if fam.GetName() == "arenabridge_pool_available_sessions" {
			for _, metric := range fam.GetMetric() {
				if metric.GetGauge().GetValue() != 3 {
					t.Fatalf("expected available gauge 3, got %v", metric.GetGauge().GetValue())
				}
			}
		}
	}
}

func sumCounterValues(fam *dto.MetricFamily) float64 {
	var total float64
	for _, metric := range fam.GetMetric() {
		total += metric.GetCounter().GetValue()
	}
	return total
}
