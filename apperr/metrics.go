package apperr

import "github.com/prometheus/client_golang/prometheus"

var errorsTotal *prometheus.CounterVec

func init() {
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "app_errors_total",
			Help: "Normalized errors recorded, by kind",
		},
		[]string{"kind"},
	)

	prometheus.MustRegister(errorsTotal)
}
