package devicesim

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	peers    prometheus.Gauge
	requests *prometheus.CounterVec // by outcome: ok, fault, unknown
	events   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fwrpc",
			Subsystem: "devicesim",
			Name:      "peers_connected",
			Help:      "Number of currently connected peers",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwrpc",
			Subsystem: "devicesim",
			Name:      "requests_total",
			Help:      "Requests answered by outcome",
		}, []string{"outcome"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwrpc",
			Subsystem: "devicesim",
			Name:      "events_emitted_total",
			Help:      "Events broadcast to peers",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.peers, m.requests, m.events} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
