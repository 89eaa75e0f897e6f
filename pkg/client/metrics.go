package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	calls      *prometheus.CounterVec // by outcome
	inFlight   prometheus.Gauge
	events     prometheus.Counter
	violations prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fwrpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "RPC calls by outcome",
		}, []string{"outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fwrpc",
			Subsystem: "client",
			Name:      "in_flight_requests",
			Help:      "Requests awaiting a reply",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwrpc",
			Subsystem: "client",
			Name:      "events_total",
			Help:      "EVENT frames received",
		}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fwrpc",
			Subsystem: "client",
			Name:      "protocol_violations_total",
			Help:      "Fatal protocol violations",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.inFlight, err = register(reg, m.inFlight); err != nil {
		return nil, err
	}
	if m.events, err = register(reg, m.events); err != nil {
		return nil, err
	}
	if m.violations, err = register(reg, m.violations); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
