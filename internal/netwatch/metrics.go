package netwatch

import "github.com/prometheus/client_golang/prometheus"

var backendOnline = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "netwatch_backend_online",
		Help: "Whether the backend health endpoint answered the last probe",
	},
)

var probesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "netwatch_probes_total",
		Help: "Total number of connectivity probes by outcome",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(backendOnline, probesTotal)
}

func reportOnlineMetric(online bool) {
	if online {
		backendOnline.Set(1)
		probesTotal.WithLabelValues("up").Inc()
	} else {
		backendOnline.Set(0)
		probesTotal.WithLabelValues("down").Inc()
	}
}
