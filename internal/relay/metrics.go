package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics lives on its own registry so several relays can share a process.
type metrics struct {
	registry *prometheus.Registry
	peers    prometheus.Gauge
	relayed  *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "livesync",
			Subsystem: "relay",
			Name:      "connected_peers",
			Help:      "Participants currently connected to the relay",
		}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "relay",
			Name:      "envelopes_total",
			Help:      "Envelopes handled by the relay, by type",
		}, []string{"type"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livesync",
			Subsystem: "relay",
			Name:      "rejected_frames_total",
			Help:      "Inbound frames the relay refused, by reason",
		}, []string{"reason"}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
