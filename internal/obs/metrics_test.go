package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestMetricsOutcomeLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveOutcome("search", "query", "success")
	m.ObserveOutcome("search", "query", "success")
	m.ObserveOutcome("search", "query", "policy_denied")

	families := gather(t, reg)
	fam, ok := families["agentgate_proxy_outcomes_total"]
	if !ok {
		t.Fatal("agentgate_proxy_outcomes_total not registered")
	}
	if len(fam.GetMetric()) != 2 {
		t.Fatalf("series = %d, want 2 (success, policy_denied)", len(fam.GetMetric()))
	}
	for _, metric := range fam.GetMetric() {
		labels := map[string]string{}
		for _, l := range metric.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		if labels["tool"] != "search" || labels["action"] != "query" {
			t.Fatalf("labels = %v", labels)
		}
		switch labels["outcome"] {
		case "success":
			if metric.GetCounter().GetValue() != 2 {
				t.Fatalf("success count = %v", metric.GetCounter().GetValue())
			}
		case "policy_denied":
			if metric.GetCounter().GetValue() != 1 {
				t.Fatalf("policy_denied count = %v", metric.GetCounter().GetValue())
			}
		default:
			t.Fatalf("unexpected outcome label %q", labels["outcome"])
		}
	}
}

func TestMetricsLatencyHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLatency("chat", "complete", 120*time.Millisecond)
	m.ObserveLatency("chat", "complete", 300*time.Millisecond)

	families := gather(t, reg)
	fam, ok := families["agentgate_proxy_latency_seconds"]
	if !ok {
		t.Fatal("agentgate_proxy_latency_seconds not registered")
	}
	hist := fam.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 2 {
		t.Fatalf("sample count = %d", hist.GetSampleCount())
	}
	want := 0.12 + 0.3
	if diff := hist.GetSampleSum() - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("sample sum = %v, want %v", hist.GetSampleSum(), want)
	}
}

func TestMetricsTokenValidationAndRetry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTokenValidation(true)
	m.ObserveTokenValidation(false)
	m.ObserveRetry("search", "query", 2)

	families := gather(t, reg)
	if fam := families["agentgate_token_validation_total"]; fam == nil || len(fam.GetMetric()) != 2 {
		t.Fatalf("token validation series = %+v", families["agentgate_token_validation_total"])
	}
	fam := families["agentgate_retry_attempts_total"]
	if fam == nil || len(fam.GetMetric()) != 1 {
		t.Fatalf("retry series = %+v", fam)
	}
	for _, l := range fam.GetMetric()[0].GetLabel() {
		if l.GetName() == "attempt" && l.GetValue() != "2" {
			t.Fatalf("attempt label = %q", l.GetValue())
		}
	}
}

func TestFanoutForwardsToAllSinks(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	a := NewMetrics(regA)
	b := NewMetrics(regB)

	f := NewFanout(a, b)
	f.ObserveOutcome("search", "query", "success")

	for _, reg := range []*prometheus.Registry{regA, regB} {
		fam := gather(t, reg)["agentgate_proxy_outcomes_total"]
		if fam == nil || fam.GetMetric()[0].GetCounter().GetValue() != 1 {
			t.Fatal("fanout did not reach every sink")
		}
	}
}
