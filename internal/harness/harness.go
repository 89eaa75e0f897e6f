package harness

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/codegen"
	"github.com/roach88/fwrpc/internal/config"
	"github.com/roach88/fwrpc/internal/devicesim"
	"github.com/roach88/fwrpc/internal/pipeline"
	"github.com/roach88/fwrpc/pkg/client"
	"github.com/roach88/fwrpc/pkg/transport"
)

// DefaultStepTimeout bounds each flow step.
const DefaultStepTimeout = 5 * time.Second

// Option configures Run.
type Option func(*Harness)

// WithLogger sets the logger of the harness, the device and the client.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithStepTimeout bounds how long a step may wait for its reply or event.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// Harness holds one scenario session: the project, the simulated device
// and the client connected to it.
type Harness struct {
	reg     *api.Registry
	codec   *codegen.Codec
	device  *devicesim.Device
	client  *client.Client
	logger  *slog.Logger
	timeout time.Duration

	// Frames seen by the client and by the device, in arrival order.
	events     chan frame
	peerEvents chan frame
}

type frame struct {
	index   uint16
	payload []byte
}

// Run executes a scenario against a fresh simulated device and returns
// the result. An error means the session could not be set up or the link
// failed; step mismatches and failed assertions are reported in the
// result.
func Run(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:    DefaultStepTimeout,
		events:     make(chan frame, 64),
		peerEvents: make(chan frame, 64),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.load(ctx, s.Config); err != nil {
		return nil, err
	}
	if err := h.setupDevice(s.Device); err != nil {
		return nil, fmt.Errorf("failed to set up device: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	served := make(chan error, 1)
	go func() { served <- h.device.ServeListener(ctx, ln) }()
	defer func() {
		cancel()
		<-served
	}()

	if err := h.connect(ctx, ln.Addr().String()); err != nil {
		return nil, err
	}
	defer h.client.Close()

	result := NewResult()
	for i, step := range s.Flow {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) load(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	p, err := pipeline.Prepare(ctx, cfg, pipeline.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("failed to scan project: %w", err)
	}
	if err := p.Register(); err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}
	if h.reg, err = p.API(); err != nil {
		return err
	}
	if h.codec, err = codegen.NewCodec(h.reg); err != nil {
		return fmt.Errorf("failed to build codec: %w", err)
	}
	return nil
}

func (h *Harness) setupDevice(setup DeviceSetup) error {
	opts := []devicesim.Option{devicesim.WithLogger(h.logger)}
	if setup.Firmware != "" {
		opts = append(opts, devicesim.WithFirmwareVersion(setup.Firmware))
	}
	d, err := devicesim.New(h.reg, opts...)
	if err != nil {
		return err
	}

	for name, spec := range setup.Handlers {
		fn, err := h.cannedHandler(name, spec)
		if err != nil {
			return err
		}
		if err := d.Handle(name, fn); err != nil {
			return err
		}
	}
	for _, ev := range h.reg.Events {
		index := ev.Index
		if err := d.OnEvent(ev.Name, func(payload []byte) {
			h.peerEvents <- frame{index: index, payload: payload}
		}); err != nil {
			return err
		}
	}
	h.device = d
	return nil
}

func (h *Harness) cannedHandler(name string, spec Handler) (devicesim.HandlerFunc, error) {
	if spec.Fault != nil {
		fault := &devicesim.Fault{Code: *spec.Fault}
		return func(context.Context, []byte) ([]byte, error) { return nil, fault }, nil
	}
	js, err := json.Marshal(spec.Reply)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", name, err)
	}
	if spec.Reply == nil {
		js = nil
	}
	reply, err := h.codec.EncodeResponse(name, js)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", name, err)
	}
	return func(context.Context, []byte) ([]byte, error) { return reply, nil }, nil
}

// connect dials the device and waits until it has registered the peer,
// so that the first emit reaches the client.
func (h *Harness) connect(ctx context.Context, addr string) error {
	dctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	tr, err := transport.DialMessage(dctx, addr, transport.WithLogger(h.logger))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	c, err := client.New(tr, client.WithLogger(h.logger))
	if err != nil {
		_ = tr.Close()
		return err
	}
	for _, ev := range h.reg.Events {
		index := ev.Index
		c.OnEvent(index, func(payload []byte) {
			h.events <- frame{index: index, payload: payload}
		})
	}
	h.client = c

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for h.device.Peers() == 0 {
		select {
		case <-dctx.Done():
			_ = c.Close()
			return fmt.Errorf("device never saw the client: %w", dctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	args, err := argsJSON(step.Args)
	if err != nil {
		return err
	}
	switch {
	case step.Call != "":
		return h.call(ctx, step, args, result)
	case step.Emit != "":
		return h.emit(ctx, step.Emit, args, result)
	default:
		return h.send(ctx, step.Send, args, result)
	}
}

func (h *Harness) call(ctx context.Context, step Step, args []byte, result *Result) error {
	id, payload, err := h.codec.EncodeRequest(step.Call, args)
	if err != nil {
		return err
	}
	result.record(TraceEvent{Kind: KindCall, Name: step.Call, Handler: id, Payload: hex.EncodeToString(payload), Data: decoded(args)})

	reply, err := h.client.Call(ctx, id, payload)
	if re, ok := client.IsRemoteError(err); ok {
		result.record(TraceEvent{Kind: KindFault, Name: step.Call, Handler: id, Payload: hex.EncodeToString(re.Payload), Code: re.Code})
		h.checkFault(step, re.Code, result)
		return nil
	}
	if err != nil {
		return fmt.Errorf("call %s: %w", step.Call, err)
	}

	js, err := h.codec.DecodeResponse(step.Call, reply)
	if err != nil {
		return err
	}
	data := decoded(js)
	result.record(TraceEvent{Kind: KindResponse, Name: step.Call, Handler: id, Payload: hex.EncodeToString(reply), Data: data})

	if step.Expect == nil {
		return nil
	}
	if step.Expect.Fault != nil {
		result.AddError(fmt.Sprintf("%s: expected fault %d, got a response", step.Call, *step.Expect.Fault))
		return nil
	}
	if step.Expect.Result != nil && !matchSubset(data, normalize(step.Expect.Result)) {
		result.AddError(fmt.Sprintf("%s: expected result %v, got %s", step.Call, step.Expect.Result, js))
	}
	return nil
}

func (h *Harness) checkFault(step Step, code uint16, result *Result) {
	if step.Expect == nil {
		result.AddError(fmt.Sprintf("%s: unexpected fault %d", step.Call, code))
		return
	}
	if step.Expect.Fault == nil {
		result.AddError(fmt.Sprintf("%s: expected a response, got fault %d", step.Call, code))
		return
	}
	if *step.Expect.Fault != code {
		result.AddError(fmt.Sprintf("%s: expected fault %d, got %d", step.Call, *step.Expect.Fault, code))
	}
}

func (h *Harness) emit(ctx context.Context, name string, args []byte, result *Result) error {
	ev, ok := h.reg.Event(name)
	if !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	payload, err := h.codec.EncodeEvent(ev.Index, args)
	if err != nil {
		return err
	}
	if err := h.device.Emit(ctx, name, payload); err != nil {
		return fmt.Errorf("emit %s: %w", name, err)
	}
	f, err := await(ctx, h.events, name)
	if err != nil {
		return err
	}
	return h.recordEvent(KindEvent, name, f, result)
}

func (h *Harness) send(ctx context.Context, name string, args []byte, result *Result) error {
	ev, ok := h.reg.Event(name)
	if !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	payload, err := h.codec.EncodeEvent(ev.Index, args)
	if err != nil {
		return err
	}
	if err := h.client.SendEvent(ctx, ev.Index, payload); err != nil {
		return fmt.Errorf("send %s: %w", name, err)
	}
	f, err := await(ctx, h.peerEvents, name)
	if err != nil {
		return err
	}
	return h.recordEvent(KindPeerEvent, name, f, result)
}

func (h *Harness) recordEvent(kind, name string, f frame, result *Result) error {
	js, err := h.codec.DecodeEvent(f.index, f.payload)
	if err != nil {
		return err
	}
	result.record(TraceEvent{Kind: kind, Name: name, Handler: f.index, Payload: hex.EncodeToString(f.payload), Data: decoded(js)})
	return nil
}

func await(ctx context.Context, ch <-chan frame, name string) (frame, error) {
	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		return frame{}, fmt.Errorf("%s never arrived: %w", name, ctx.Err())
	}
}

func argsJSON(args map[string]any) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	js, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return js, nil
}

// decoded parses a JSON payload for the trace. Empty input records an
// empty object.
func decoded(js []byte) any {
	if len(js) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return string(js)
	}
	return v
}
