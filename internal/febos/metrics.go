package febos

import "github.com/prometheus/client_golang/prometheus"

var (
	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "febos_logins_total",
			Help: "Login attempts per account by result",
		},
		[]string{"account", "result"},
	)
	sessionValid = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "febos_session_valid",
			Help: "Session token validity per account (1=valid, 0=invalid)",
		},
		[]string{"account"},
	)
)

// MetricsCollectors returns collectors for the shared session module.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		loginsTotal,
		sessionValid,
	}
}
