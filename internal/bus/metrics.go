package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics collects the bus's Prometheus series: counters for anything
// monotonic, gauges for anything that can move in both directions.
type metrics struct {
	packetsWritten *prometheus.CounterVec
	bytesWritten   *prometheus.CounterVec
	subscriberLag  *prometheus.CounterVec
	outputErrors   *prometheus.CounterVec
	outputsActive  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		packetsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediabus",
			Name:      "output_packets_written_total",
			Help:      "Packets written per output.",
		}, []string{"output_id"}),
		bytesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediabus",
			Name:      "output_bytes_written_total",
			Help:      "Bytes written per output.",
		}, []string{"output_id"}),
		subscriberLag: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediabus",
			Name:      "subscriber_dropped_total",
			Help:      "Items dropped for a lagging bus subscriber.",
		}, []string{"bus"}),
		outputErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediabus",
			Name:      "output_errors_total",
			Help:      "Errors surfaced by an output writer.",
		}, []string{"output_id"}),
		outputsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediabus",
			Name:      "outputs_active",
			Help:      "Number of currently attached outputs.",
		}),
	}
}
