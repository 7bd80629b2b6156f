// Package metrics holds the Prometheus collectors for clawpulse.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpulse",
			Name:      "fetch_total",
			Help:      "Usage fetches by result (ok or error type)",
		},
		[]string{"result"},
	)

	UtilizationRatio = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clawpulse",
			Name:      "utilization_ratio",
			Help:      "Last observed utilization per quota window (0-1)",
		},
		[]string{"window"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpulse",
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result",
		},
		[]string{"result"},
	)

	LoginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clawpulse",
			Name:      "login_total",
			Help:      "Interactive login attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(FetchTotal)
	prometheus.MustRegister(UtilizationRatio)
	prometheus.MustRegister(TokenRefreshTotal)
	prometheus.MustRegister(LoginTotal)
}
