package metrics

import "github.com/prometheus/client_golang/prometheus"

// Relay Prometheus metrics.
var (
	RelayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "relay_requests_total",
			Help:      "Total number of relayed chat requests",
		},
		[]string{"provider", "status"},
	)

	RelayTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "relay_tokens_total",
			Help:      "Total tokens accounted against quotas",
		},
		[]string{"provider", "source"}, // source: "exact" / "estimated"
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "promptgate",
			Name:      "upstream_request_duration_seconds",
			Help:      "Time to establish the upstream stream (headers received)",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider"},
	)

	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "promptgate",
			Name:      "quota_rejections_total",
			Help:      "Requests rejected at admission for exhausted quota",
		},
		[]string{"plan"},
	)
)

var relayMetricsRegistered bool

// RegisterRelayMetrics registers Prometheus relay metrics. Must be called once from main.
func RegisterRelayMetrics() {
	if relayMetricsRegistered {
		return
	}
	prometheus.MustRegister(RelayRequestsTotal)
	prometheus.MustRegister(RelayTokensTotal)
	prometheus.MustRegister(UpstreamRequestDuration)
	prometheus.MustRegister(QuotaRejectionsTotal)
	relayMetricsRegistered = true
}
