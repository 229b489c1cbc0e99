package coordinator

import "github.com/prometheus/client_golang/prometheus"

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "febos_polls_total",
			Help: "Poll cycles per account, by trigger and result",
		},
		[]string{"account", "reason", "result"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "febos_poll_duration_seconds",
			Help:    "Wall time of one poll cycle",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"account"},
	)
	consecutiveFailuresGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "febos_poll_consecutive_failures",
			Help: "Consecutive failed polls per account",
		},
		[]string{"account"},
	)
	needsReauthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "febos_account_needs_reauth",
			Help: "1 when the account's credentials were rejected and polling stopped",
		},
		[]string{"account"},
	)
	devicesGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "febos_devices",
			Help: "Known devices per account",
		},
		[]string{"account"},
	)
)

// MetricsCollectors exposes shared coordinator collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		pollsTotal,
		pollDuration,
		consecutiveFailuresGauge,
		needsReauthGauge,
		devicesGauge,
	}
}
