// Package client is the asynchronous request/response/event client used
// by generated device clients.
//
// One dispatcher goroutine owns the pending-request table. Callers
// register a completion slot with it before sending, then wait on that
// slot. A separate reader goroutine feeds inbound frames to the
// dispatcher, and a single worker delivers EVENT frames to handlers in
// arrival order.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/fwrpc/pkg/packet"
	"github.com/roach88/fwrpc/pkg/transport"
)

// EventHandler receives the payload of an EVENT frame.
type EventHandler func(payload []byte)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. A session attribute is added to every line.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics registers client metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithCancelRetention sets how long a cancelled request ID is withheld
// from reuse.
func WithCancelRetention(d time.Duration) Option {
	return func(c *Client) { c.retention = d }
}

type result struct {
	payload []byte
	err     error
}

type registration struct {
	handler uint16
	reply   chan registered
}

// call is a pending request as seen by the dispatcher.
type call struct {
	handler uint16
	slot    chan result
}

type registered struct {
	id   uint16
	slot chan result
	err  error
}

// Client issues calls and receives events over a Transport.
type Client struct {
	tr         transport.Transport
	logger     *slog.Logger
	registerer prometheus.Registerer
	retention  time.Duration
	session    string
	metrics    *metrics

	register chan registration
	cancel   chan uint16
	inbound  chan packet.Packet

	events     *eventQueue
	handlersMu sync.RWMutex
	handlers   map[uint16]EventHandler

	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

// New starts a client on tr. The client owns tr and closes it on shutdown.
func New(tr transport.Transport, opts ...Option) (*Client, error) {
	c := &Client{
		tr:        tr,
		logger:    slog.Default(),
		retention: DefaultCancelRetention,
		register:  make(chan registration),
		cancel:    make(chan uint16),
		inbound:   make(chan packet.Packet),
		events:    newEventQueue(),
		handlers:  make(map[uint16]EventHandler),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	m, err := newMetrics(c.registerer)
	if err != nil {
		return nil, fmt.Errorf("register client metrics: %w", err)
	}
	c.metrics = m
	c.session = uuid.Must(uuid.NewV7()).String()
	c.logger = c.logger.With("session", c.session)
	c.ctx, c.stop = context.WithCancel(context.Background())

	c.wg.Add(3)
	go c.read()
	go c.dispatch()
	go c.deliverEvents()
	c.logger.Debug("client started")
	return c, nil
}

// Session identifies this client in logs.
func (c *Client) Session() string { return c.session }

// Call sends an RPC to handler and waits for its reply. An ERROR reply is
// returned as *RemoteError. Cancelling ctx abandons the call; a reply that
// arrives later is discarded.
func (c *Client) Call(ctx context.Context, handler uint16, payload []byte) ([]byte, error) {
	reg := registration{handler: handler, reply: make(chan registered, 1)}
	select {
	case c.register <- reg:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, c.Err()
	}
	var r registered
	select {
	case r = <-reg.reply:
	case <-c.done:
		return nil, c.Err()
	}
	if r.err != nil {
		c.metrics.calls.WithLabelValues("exhausted").Inc()
		return nil, r.err
	}

	p, err := packet.New(packet.KindRPC, handler, r.id, payload)
	if err == nil {
		err = c.tr.Send(ctx, p)
	}
	if err != nil {
		c.abandon(r.id)
		c.metrics.calls.WithLabelValues("send_error").Inc()
		return nil, fmt.Errorf("send request %d: %w", r.id, err)
	}

	select {
	case res := <-r.slot:
		return c.finish(res)
	case <-ctx.Done():
		c.abandon(r.id)
		c.metrics.calls.WithLabelValues("cancelled").Inc()
		return nil, ctx.Err()
	case <-c.done:
		select {
		case res := <-r.slot:
			return c.finish(res)
		default:
		}
		c.metrics.calls.WithLabelValues("closed").Inc()
		return nil, c.Err()
	}
}

func (c *Client) finish(res result) ([]byte, error) {
	switch {
	case res.err == nil:
		c.metrics.calls.WithLabelValues("ok").Inc()
	case errors.As(res.err, new(*RemoteError)):
		c.metrics.calls.WithLabelValues("remote_error").Inc()
	default:
		c.metrics.calls.WithLabelValues("failed").Inc()
	}
	return res.payload, res.err
}

func (c *Client) abandon(id uint16) {
	select {
	case c.cancel <- id:
	case <-c.done:
	}
}

// SendEvent sends a fire-and-forget EVENT frame.
func (c *Client) SendEvent(ctx context.Context, handler uint16, payload []byte) error {
	select {
	case <-c.done:
		return c.Err()
	default:
	}
	p, err := packet.New(packet.KindEvent, handler, 0, payload)
	if err != nil {
		return err
	}
	return c.tr.Send(ctx, p)
}

// OnEvent sets the handler for EVENT frames with the given handler index.
// A nil fn removes it.
func (c *Client) OnEvent(handler uint16, fn EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	if fn == nil {
		delete(c.handlers, handler)
		return
	}
	c.handlers[handler] = fn
}

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the reason the client shut down, or nil while it runs.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close shuts the client down, closes the transport and waits for the
// background goroutines. It must not be called from an EventHandler.
func (c *Client) Close() error {
	err := c.shutdown(ErrClosed)
	c.wg.Wait()
	return err
}

// shutdown records cause, stops every goroutine and closes the transport.
// Only the first cause is kept.
func (c *Client) shutdown(cause error) error {
	var closeErr error
	c.failOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		close(c.done)
		c.stop()
		c.events.Close()
		closeErr = c.tr.Close()

		if errors.Is(cause, ErrClosed) {
			c.logger.Debug("client closed")
		} else {
			c.logger.Error("client stopped", "error", cause)
		}
	})
	return closeErr
}

// read pumps frames from the transport to the dispatcher.
func (c *Client) read() {
	defer c.wg.Done()
	for {
		p, err := c.tr.Receive(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if errors.Is(err, packet.ErrProtocolViolation) {
				c.metrics.violations.Inc()
			}
			c.shutdown(fmt.Errorf("receive: %w", err))
			return
		}
		select {
		case c.inbound <- p:
		case <-c.done:
			return
		}
	}
}

// dispatch owns the pending table and the ID allocator.
func (c *Client) dispatch() {
	defer c.wg.Done()

	pending := make(map[uint16]*call)
	ids := newIDAllocator(c.retention)
	busy := func(id uint16) bool {
		_, ok := pending[id]
		return ok
	}

	for {
		select {
		case <-c.done:
			return

		case reg := <-c.register:
			id, ok := ids.allocate(busy, time.Now())
			if !ok {
				reg.reply <- registered{err: ErrRequestIDsExhausted}
				continue
			}
			slot := make(chan result, 1)
			pending[id] = &call{handler: reg.handler, slot: slot}
			c.metrics.inFlight.Inc()
			reg.reply <- registered{id: id, slot: slot}

		case id := <-c.cancel:
			if _, ok := pending[id]; ok {
				delete(pending, id)
				c.metrics.inFlight.Dec()
				ids.cancel(id, time.Now())
			}

		case p := <-c.inbound:
			if err := c.route(p, pending, ids); err != nil {
				c.metrics.violations.Inc()
				c.shutdown(err)
				return
			}
		}
	}
}

func (c *Client) route(p packet.Packet, pending map[uint16]*call, ids *idAllocator) error {
	switch p.Kind {
	case packet.KindEvent:
		c.metrics.events.Inc()
		c.events.Enqueue(p)
		return nil

	case packet.KindResponse, packet.KindError:
		pc, ok := pending[p.RequestID]
		if !ok {
			if ids.late(p.RequestID) {
				c.logger.Debug("dropped reply to cancelled request", "request_id", p.RequestID, "kind", p.Kind)
				return nil
			}
			return packet.Violation(packet.CodeUnknownRequest,
				"%s for request %d that is not outstanding", p.Kind, p.RequestID)
		}
		delete(pending, p.RequestID)
		c.metrics.inFlight.Dec()
		if p.Kind == packet.KindError {
			pc.slot <- result{err: &RemoteError{Handler: pc.handler, Code: p.HandlerID, Payload: p.Payload}}
		} else {
			pc.slot <- result{payload: p.Payload}
		}
		return nil

	default:
		c.logger.Warn("ignoring unexpected frame", "kind", p.Kind, "handler", p.HandlerID)
		return nil
	}
}

// deliverEvents runs handlers for queued EVENT frames, one at a time.
func (c *Client) deliverEvents() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case _, ok := <-c.events.Wait():
			for {
				p, more := c.events.TryDequeue()
				if !more {
					break
				}
				c.deliver(p)
			}
			if !ok {
				return
			}
		}
	}
}

func (c *Client) deliver(p packet.Packet) {
	c.handlersMu.RLock()
	fn := c.handlers[p.HandlerID]
	c.handlersMu.RUnlock()
	if fn == nil {
		c.logger.Debug("event has no handler", "handler", p.HandlerID, "bytes", len(p.Payload))
		return
	}
	fn(p.Payload)
}
