package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the relay's prometheus instruments.
type Metrics struct {
	clients       prometheus.Gauge
	rooms         prometheus.Gauge
	signals       *prometheus.CounterVec
	droppedFrames prometheus.Counter
}

// NewMetrics registers the relay instruments on reg. A nil reg yields
// unregistered instruments, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetline_relay_clients",
			Help: "Number of signaling connections currently registered",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "meetline_relay_rooms",
			Help: "Number of meetings with at least one connected participant",
		}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meetline_relay_signals_total",
			Help: "Signal envelopes routed, by kind",
		}, []string{"kind"}),
		droppedFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "meetline_relay_dropped_frames_total",
			Help: "Frames not delivered because a client's send buffer was full",
		}),
	}
}
