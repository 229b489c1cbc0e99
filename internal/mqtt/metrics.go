package mqtt

import "github.com/prometheus/client_golang/prometheus"

var (
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "febos_mqtt_commands_total",
			Help: "Commands received over MQTT, by result",
		},
		[]string{"account", "result"},
	)
	publishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "febos_mqtt_publish_errors_total",
			Help: "Failed MQTT publishes",
		},
	)
)

// MetricsCollectors exposes shared bridge collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{commandsTotal, publishErrorsTotal}
}
