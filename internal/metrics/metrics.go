package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline. A nil
// *Metrics is valid and records nothing, so tests can wire components
// without touching the global registry.
type Metrics struct {
	// Outcomes by tier of record and final status
	Outcomes *prometheus.CounterVec

	// Provider failures by provider and normalized error kind
	ProviderErrors *prometheus.CounterVec

	// Remote call latency by provider
	ProviderLatency *prometheus.HistogramVec

	// OAuth token acquisitions by provider
	TokenRefreshes *prometheus.CounterVec
}

// New registers and returns the pipeline metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "addrverify_outcomes_total",
			Help: "Verification outcomes by tier of record and status",
		}, []string{"tier", "status"}),

		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "addrverify_provider_errors_total",
			Help: "Provider failures by provider and error kind",
		}, []string{"provider", "kind"}),

		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "addrverify_provider_duration_seconds",
			Help:    "Duration of remote provider calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),

		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "addrverify_token_refreshes_total",
			Help: "OAuth token acquisitions by provider",
		}, []string{"provider"}),
	}
}

func (m *Metrics) IncOutcome(tier, status string) {
	if m != nil {
		m.Outcomes.WithLabelValues(tier, status).Inc()
	}
}

func (m *Metrics) IncProviderError(provider, kind string) {
	if m != nil {
		m.ProviderErrors.WithLabelValues(provider, kind).Inc()
	}
}

func (m *Metrics) ObserveProviderLatency(provider string, d time.Duration) {
	if m != nil {
		m.ProviderLatency.WithLabelValues(provider).Observe(d.Seconds())
	}
}

func (m *Metrics) IncTokenRefresh(provider string) {
	if m != nil {
		m.TokenRefreshes.WithLabelValues(provider).Inc()
	}
}
