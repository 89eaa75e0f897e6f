// Package devicesim is an in-process device that speaks the wire protocol.
// It answers the reserved endpoints from an API registry, runs handlers
// registered for the others and broadcasts events to every connected
// peer. It backs `fwrpc simulate` and end-to-end client tests.
package devicesim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/pkg/packet"
	"github.com/roach88/fwrpc/pkg/transport"
)

// CodeUnknownHandler is the error code sent for a handler ID the device
// does not implement.
const CodeUnknownHandler uint16 = 0xffff

// CodeHandlerFailed is the error code sent when a handler returns a plain
// error.
const CodeHandlerFailed uint16 = 0xfffe

// FirmwareVersion is what get_firmware_version reports by default.
const FirmwareVersion = "fwrpc-sim"

// HandlerFunc answers one request. A returned *Fault becomes an ERROR frame
// carrying its code.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// EventFunc observes an event a peer sent to the device.
type EventFunc func(payload []byte)

// Fault is an application error reported to the caller.
type Fault struct {
	Code    uint16
	Payload []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("device fault %d", f.Code)
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		d.logger = l
	}
}

// WithMetrics registers peer and request metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(d *Device) {
		d.registerer = reg
	}
}

// WithFirmwareVersion overrides the reported firmware version.
func WithFirmwareVersion(v string) Option {
	return func(d *Device) {
		d.version = v
	}
}

// Device is a simulated firmware.
type Device struct {
	reg        *api.Registry
	logger     *slog.Logger
	registerer prometheus.Registerer
	version    string
	metrics    *metrics

	mu       sync.RWMutex
	handlers map[uint16]HandlerFunc
	events   map[uint16]EventFunc
	peers    map[transport.Transport]struct{}

	upgrader websocket.Upgrader
	wg       sync.WaitGroup
}

// New creates a device serving reg's layout.
func New(reg *api.Registry, opts ...Option) (*Device, error) {
	d := &Device{
		reg:      reg,
		logger:   slog.Default(),
		version:  FirmwareVersion,
		handlers: make(map[uint16]HandlerFunc),
		events:   make(map[uint16]EventFunc),
		peers:    make(map[transport.Transport]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	m, err := newMetrics(d.registerer)
	if err != nil {
		return nil, err
	}
	d.metrics = m
	d.installReserved()
	return d, nil
}

// installReserved wires the built-in answers for the reserved block.
func (d *Device) installReserved() {
	hash := func(v uint32) HandlerFunc {
		return func(context.Context, []byte) ([]byte, error) {
			return protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), uint64(v)), nil
		}
	}
	builtin := map[string]HandlerFunc{
		"get_core_hash":     hash(d.reg.Compat.Core),
		"get_reserved_hash": hash(d.reg.Compat.Reserved),
		"get_api_hash":      hash(d.reg.Compat.API),
		"get_firmware_version": func(context.Context, []byte) ([]byte, error) {
			return protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), d.version), nil
		},
		"reboot": func(context.Context, []byte) ([]byte, error) { return nil, nil },
		"ping":   func(context.Context, []byte) ([]byte, error) { return nil, nil },
	}
	for name, fn := range builtin {
		if ep, ok := d.reg.Endpoint(name); ok {
			d.handlers[ep.ID] = fn
		}
	}
}

// Handle sets the handler of the named endpoint, replacing any built-in.
func (d *Device) Handle(endpoint string, fn HandlerFunc) error {
	ep, ok := d.reg.Endpoint(endpoint)
	if !ok {
		return fmt.Errorf("unknown endpoint %q", endpoint)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[ep.ID] = fn
	return nil
}

// OnEvent observes the named event when a peer sends it.
func (d *Device) OnEvent(event string, fn EventFunc) error {
	ev, ok := d.reg.Event(event)
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[ev.Index] = fn
	return nil
}

// Emit broadcasts the named event to every connected peer.
func (d *Device) Emit(ctx context.Context, event string, payload []byte) error {
	ev, ok := d.reg.Event(event)
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	p, err := packet.New(packet.KindEvent, ev.Index, 0, payload)
	if err != nil {
		return err
	}

	d.mu.RLock()
	peers := make([]transport.Transport, 0, len(d.peers))
	for tr := range d.peers {
		peers = append(peers, tr)
	}
	d.mu.RUnlock()

	var errs []error
	for _, tr := range peers {
		if err := tr.Send(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	d.metrics.events.Inc()
	return errors.Join(errs...)
}

// Peers returns how many peers are connected.
func (d *Device) Peers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Serve answers frames from tr until ctx is done or tr fails. It closes tr
// before returning.
func (d *Device) Serve(ctx context.Context, tr transport.Transport) error {
	d.mu.Lock()
	d.peers[tr] = struct{}{}
	n := len(d.peers)
	d.mu.Unlock()
	d.metrics.peers.Set(float64(n))
	d.logger.Debug("peer connected", "peers", n)

	defer func() {
		d.mu.Lock()
		delete(d.peers, tr)
		n := len(d.peers)
		d.mu.Unlock()
		d.metrics.peers.Set(float64(n))
		_ = tr.Close()
		d.logger.Debug("peer disconnected", "peers", n)
	}()

	for {
		p, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		switch p.Kind {
		case packet.KindRPC:
			reply := d.answer(ctx, p)
			if err := tr.Send(ctx, reply); err != nil {
				return err
			}
		case packet.KindEvent:
			d.mu.RLock()
			fn := d.events[p.HandlerID]
			d.mu.RUnlock()
			if fn == nil {
				d.logger.Debug("event has no observer", "handler", p.HandlerID)
				continue
			}
			fn(p.Payload)
		default:
			d.logger.Warn("unexpected frame", "kind", p.Kind.String(), "handler", p.HandlerID)
		}
	}
}

func (d *Device) answer(ctx context.Context, req packet.Packet) packet.Packet {
	d.mu.RLock()
	fn := d.handlers[req.HandlerID]
	d.mu.RUnlock()

	reply := func(kind packet.Kind, handler uint16, payload []byte, outcome string) packet.Packet {
		d.metrics.requests.WithLabelValues(outcome).Inc()
		p, err := packet.New(kind, handler, req.RequestID, payload)
		if err != nil {
			d.logger.Error("reply does not fit a frame", "handler", req.HandlerID, "error", err)
			p, _ = packet.New(packet.KindError, CodeHandlerFailed, req.RequestID, nil)
		}
		return p
	}

	if fn == nil {
		d.logger.Debug("no handler", "handler", req.HandlerID, "request", req.RequestID)
		return reply(packet.KindError, CodeUnknownHandler, nil, "unknown")
	}
	out, err := fn(ctx, req.Payload)
	if err != nil {
		var fault *Fault
		if errors.As(err, &fault) {
			return reply(packet.KindError, fault.Code, fault.Payload, "fault")
		}
		d.logger.Warn("handler failed", "handler", req.HandlerID, "error", err)
		return reply(packet.KindError, CodeHandlerFailed, []byte(err.Error()), "fault")
	}
	return reply(packet.KindResponse, req.HandlerID, out, "ok")
}

// ServeHTTP upgrades the request and serves the websocket as a peer.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	d.wg.Add(1)
	defer d.wg.Done()
	if err := d.Serve(r.Context(), transport.NewMessage(conn, transport.WithLogger(d.logger))); err != nil {
		d.logger.Debug("peer ended", "error", err)
	}
}

// Handler returns a mux serving the device at transport.Path. When the
// metrics registerer can also be gathered it is exposed at /metrics.
func (d *Device) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(transport.Path, d)
	if g, ok := d.registerer.(prometheus.Gatherer); ok {
		mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves websocket peers on addr until ctx is done.
func (d *Device) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return d.ServeListener(ctx, ln)
}

// ServeListener serves websocket peers on ln until ctx is done.
func (d *Device) ServeListener(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	d.logger.Info("simulated device listening", "addr", ln.Addr().String(), "path", transport.Path)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(shutdownCtx)
	d.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
