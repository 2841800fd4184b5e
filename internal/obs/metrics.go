// Package obs wires the gateway's observability stack: a Prometheus
// registry exposed at /metrics, and an OpenTelemetry tracer/meter pair
// using the stdout exporters for local development. Every proxied call
// increments a counter labelled by {tool, action, outcome} and observes a
// latency histogram labelled by {tool, action}.
package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the gateway publishes. Implements
// proxy.Observer.
type Metrics struct {
	ProxyOutcomesTotal   *prometheus.CounterVec
	ProxyLatencySeconds  *prometheus.HistogramVec
	TokenValidationTotal *prometheus.CounterVec
	RetryAttemptsTotal   *prometheus.CounterVec
	BreakerStateGauge    *prometheus.GaugeVec
	DegradationLevel     prometheus.Gauge
	QuotaRejectionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers every series against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ProxyOutcomesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "proxy_outcomes_total",
				Help:      "Total proxied tool calls by tool, action, and outcome",
			},
			[]string{"tool", "action", "outcome"},
		),
		ProxyLatencySeconds: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentgate",
				Name:      "proxy_latency_seconds",
				Help:      "Proxy call latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool", "action"},
		),
		TokenValidationTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "token_validation_total",
				Help:      "Token validation attempts by result",
			},
			[]string{"result"}, // ok/fail
		),
		RetryAttemptsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "retry_attempts_total",
				Help:      "Retry attempts by tool, action, attempt number",
			},
			[]string{"tool", "action", "attempt"},
		),
		BreakerStateGauge: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentgate",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per tool (0=closed, 1=half_open, 2=open)",
			},
			[]string{"tool"},
		),
		DegradationLevel: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "agentgate",
				Name:      "degradation_level",
				Help:      "Current graceful-degradation level (0-3)",
			},
		),
		QuotaRejectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentgate",
				Name:      "quota_rejections_total",
				Help:      "Requests rejected for exceeding a quota, by action",
			},
			[]string{"action"},
		),
	}
}

// ObserveOutcome implements proxy.Observer.
func (m *Metrics) ObserveOutcome(tool, action, outcome string) {
	m.ProxyOutcomesTotal.WithLabelValues(tool, action, outcome).Inc()
}

// ObserveLatency implements proxy.Observer.
func (m *Metrics) ObserveLatency(tool, action string, d time.Duration) {
	m.ProxyLatencySeconds.WithLabelValues(tool, action).Observe(d.Seconds())
}

// ObserveTokenValidation implements proxy.Observer.
func (m *Metrics) ObserveTokenValidation(ok bool) {
	result := "fail"
	if ok {
		result = "ok"
	}
	m.TokenValidationTotal.WithLabelValues(result).Inc()
}

// ObserveRetry implements proxy.Observer.
func (m *Metrics) ObserveRetry(tool, action string, attempt int) {
	m.RetryAttemptsTotal.WithLabelValues(tool, action, itoa(attempt)).Inc()
}

func itoa(i int) string {
	// Avoids pulling in strconv at the call site for a one-liner; kept
	// local since this is the only numeric label the gateway formats.
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
