package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/devicesim"
	"github.com/roach88/fwrpc/pkg/transport"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Listen    string
	Firmware  string
	Metrics   bool
	Stub      bool
	Heartbeat string
	Payload   string
	Every     time.Duration
}

// SimulateStatus is printed once the simulated device is listening.
type SimulateStatus struct {
	Addr      string     `json:"addr"`
	Path      string     `json:"path"`
	Endpoints int        `json:"endpoints"`
	Events    int        `json:"events"`
	Compat    api.Compat `json:"compat"`
	Metrics   bool       `json:"metrics,omitempty"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate <config>",
		Short: "Run a simulated device for a project",
		Long: `Serve the project's API as a simulated device over websocket until
interrupted. The reserved endpoints answer with the project's hashes;
with --stub every other endpoint answers with an empty reply.

Example:
  fwrpc simulate --listen 127.0.0.1:7700 --stub fwrpc.yaml
  fwrpc simulate --heartbeat button_pressed --payload '{"button":1}' --every 2s fwrpc.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "127.0.0.1:7700", "address to serve websocket peers on")
	cmd.Flags().StringVar(&opts.Firmware, "firmware-version", devicesim.FirmwareVersion, "version reported by get_firmware_version")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "expose Prometheus metrics at /metrics")
	cmd.Flags().BoolVar(&opts.Stub, "stub", false, "answer every non-reserved endpoint with an empty reply")
	cmd.Flags().StringVar(&opts.Heartbeat, "heartbeat", "", "event to broadcast periodically")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "JSON payload of the heartbeat event")
	cmd.Flags().DurationVar(&opts.Every, "every", time.Second, "heartbeat interval")

	return cmd
}

func runSimulate(opts *SimulateOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proj, err := loadProject(ctx, formatter, path, logger)
	if err != nil {
		return err
	}
	reg := proj.reg

	devOpts := []devicesim.Option{
		devicesim.WithLogger(logger),
		devicesim.WithFirmwareVersion(opts.Firmware),
	}
	if opts.Metrics {
		devOpts = append(devOpts, devicesim.WithMetrics(prometheus.NewRegistry()))
	}
	d, err := devicesim.New(reg, devOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "create device", err, nil)
	}

	if opts.Stub {
		for _, ep := range reg.Endpoints {
			if ep.Reserved {
				continue
			}
			if err := d.Handle(ep.Name, stubHandler); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeGeneric, "stub endpoint", err, nil)
			}
		}
	}
	for _, ev := range reg.Events {
		if err := d.OnEvent(ev.Name, func(payload []byte) {
			js, err := proj.codec.DecodeEvent(ev.Index, payload)
			if err != nil {
				logger.Warn("event payload does not decode", "event", ev.Name, "error", err)
				return
			}
			logger.Info("event received", "event", ev.Name, "payload", string(js))
		}); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "observe event", err, nil)
		}
	}

	var heartbeat []byte
	if opts.Heartbeat != "" {
		ev, ok := proj.event(opts.Heartbeat)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown event %q", opts.Heartbeat), nil, nil)
		}
		opts.Heartbeat = ev.Name
		heartbeat, err = proj.codec.EncodeEvent(ev.Index, []byte(opts.Payload))
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodePayload, "encode heartbeat", err, nil)
		}
		if opts.Every <= 0 {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--every must be positive", nil, nil)
		}
	}

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "listen", err, nil)
	}

	status := SimulateStatus{
		Addr:      ln.Addr().String(),
		Path:      transport.Path,
		Endpoints: len(reg.Endpoints),
		Events:    len(reg.Events),
		Compat:    reg.Compat,
		Metrics:   opts.Metrics,
	}
	if err := formatter.Render(status, func(w io.Writer) {
		fmt.Fprintf(w, "simulated device on ws://%s%s (%d endpoints, %d events)\n",
			status.Addr, status.Path, status.Endpoints, status.Events)
		writeCompat(w, status.Compat)
		if status.Metrics {
			fmt.Fprintf(w, "metrics on http://%s/metrics\n", status.Addr)
		}
	}); err != nil {
		_ = ln.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.ServeListener(gctx, ln)
	})
	if opts.Heartbeat != "" {
		g.Go(func() error {
			return beat(gctx, d, opts.Heartbeat, heartbeat, opts.Every)
		})
	}
	if err := g.Wait(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "device stopped", err, nil)
	}
	return nil
}

func stubHandler(context.Context, []byte) ([]byte, error) {
	return nil, nil
}

// beat emits event every interval until ctx is done. Send failures to
// single peers are logged, not fatal.
func beat(ctx context.Context, d *devicesim.Device, event string, payload []byte, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.Emit(ctx, event, payload); err != nil {
				slog.Debug("heartbeat not delivered", "event", event, "error", err)
			}
		}
	}
}
