// Package transport moves whole packet frames over a device link.
//
// Two transports exist. Message carries one frame per channel message
// (websocket). Stream carries frames over a raw byte stream (serial) and
// scans for the START marker to find frame boundaries.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/fwrpc/pkg/packet"
)

// Transport sends and receives whole frames. Send is safe for concurrent
// use; Receive is called by a single reader.
type Transport interface {
	Send(ctx context.Context, p packet.Packet) error
	Receive(ctx context.Context) (packet.Packet, error)
	Close() error
}

// ErrClosed is returned by Send and Receive after Close.
var ErrClosed = errors.New("transport closed")

// DefaultPollInterval is how long a byte-stream reader sleeps when the
// device has nothing to read.
const DefaultPollInterval = 5 * time.Millisecond

// Option configures a transport.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	poll       time.Duration
	registerer prometheus.Registerer
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPollInterval sets the byte-stream poll sleep.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithMetrics registers transport metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), poll: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// discardedBytes returns the resync counter, registered with reg when set.
// Several streams sharing a registry share one counter.
func discardedBytes(reg prometheus.Registerer) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fwrpc",
		Subsystem: "transport",
		Name:      "discarded_bytes_total",
		Help:      "Bytes skipped while scanning a byte stream for a frame start",
	})
	if reg == nil {
		return c, nil
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}
