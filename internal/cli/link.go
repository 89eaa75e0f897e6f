package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fwrpc/pkg/client"
	"github.com/roach88/fwrpc/pkg/transport"
)

// LinkOptions selects the device connection. Exactly one of Addr and
// Device must be set.
type LinkOptions struct {
	Addr    string
	Device  string
	Baud    int
	Timeout time.Duration
}

func addLinkFlags(cmd *cobra.Command, link *LinkOptions) {
	cmd.Flags().StringVar(&link.Addr, "addr", "", "websocket device address (host:port)")
	cmd.Flags().StringVar(&link.Device, "device", "", "serial device path")
	cmd.Flags().IntVar(&link.Baud, "baud", transport.DefaultBaudRate, "serial baud rate")
	cmd.Flags().DurationVar(&link.Timeout, "timeout", 5*time.Second, "connect and request timeout")
}

func (l *LinkOptions) configured() bool {
	return l.Addr != "" || l.Device != ""
}

func (l *LinkOptions) validate() error {
	switch {
	case l.Addr != "" && l.Device != "":
		return errors.New("--addr and --device are mutually exclusive")
	case !l.configured():
		return errors.New("one of --addr or --device is required")
	}
	return nil
}

// dial opens the transport and starts a client on it.
func (l *LinkOptions) dial(ctx context.Context, logger *slog.Logger) (*client.Client, error) {
	if err := l.validate(); err != nil {
		return nil, err
	}
	var tr transport.Transport
	if l.Addr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, l.Timeout)
		defer cancel()
		m, err := transport.DialMessage(dialCtx, l.Addr, transport.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		tr = m
	} else {
		s, err := transport.DialSerial(l.Device, l.Baud, transport.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		tr = s
	}
	c, err := client.New(tr, client.WithLogger(logger))
	if err != nil {
		_ = tr.Close()
		return nil, err
	}
	logger.Debug("connected", "addr", l.Addr, "device", l.Device, "session", c.Session())
	return c, nil
}

func (l *LinkOptions) connect(ctx context.Context, f *OutputFormatter, logger *slog.Logger) (*client.Client, error) {
	c, err := l.dial(ctx, logger)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConnect, "connect failed", err, nil)
	}
	return c, nil
}
