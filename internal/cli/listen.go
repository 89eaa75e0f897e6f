package cli

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

// ListenOptions holds flags for the listen command.
type ListenOptions struct {
	*RootOptions
	Link   LinkOptions
	Config string
	Events []string
	Count  int
}

// EventRecord is one event received from a device.
type EventRecord struct {
	Event   string          `json:"event,omitempty"`
	Index   uint16          `json:"index"`
	Payload string          `json:"payload"` // hex
	Decoded json.RawMessage `json:"decoded,omitempty"`
}

// NewListenCommand creates the listen command.
func NewListenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print events broadcast by a device",
		Long: `Connect to a device and print every event it sends, one per line.

With --config every event of the project is subscribed and payloads are
decoded to JSON. Without it, name the event indexes with --event.

Example:
  fwrpc listen --addr 127.0.0.1:7700 --config fwrpc.yaml --count 10
  fwrpc listen --device /dev/ttyUSB0 --event 0 --event 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(opts, cmd)
		},
	}

	addLinkFlags(cmd, &opts.Link)
	cmd.Flags().StringVar(&opts.Config, "config", "", "project file used to name and decode events")
	cmd.Flags().StringArrayVar(&opts.Events, "event", nil, "event name or index to subscribe (repeatable)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many events (0 = until interrupted)")

	return cmd
}

func runListen(opts *ListenOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := opts.Link.validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "no device", err, nil)
	}
	proj, err := loadProject(ctx, formatter, opts.Config, logger)
	if err != nil {
		return err
	}

	// index -> name; the name is empty without a project.
	subscribed := make(map[uint16]string)
	for _, ref := range opts.Events {
		if proj != nil {
			ev, ok := proj.event(ref)
			if !ok {
				return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown event %q", ref), nil, nil)
			}
			subscribed[ev.Index] = ev.Name
			continue
		}
		idx, err := strconv.ParseUint(ref, 0, 16)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "event must be a numeric index without --config", err, nil)
		}
		subscribed[uint16(idx)] = ""
	}
	if len(opts.Events) == 0 && proj != nil {
		for _, ev := range proj.reg.Events {
			subscribed[ev.Index] = ev.Name
		}
	}
	if len(subscribed) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "nothing to listen for: pass --config or --event", nil, nil)
	}

	c, err := opts.Link.connect(ctx, formatter, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	records := make(chan EventRecord, 64)
	quit := make(chan struct{})
	defer close(quit)
	for idx, name := range subscribed {
		c.OnEvent(idx, func(payload []byte) {
			rec := EventRecord{Event: name, Index: idx, Payload: hex.EncodeToString(payload)}
			if proj != nil {
				if decoded, err := proj.codec.DecodeEvent(idx, payload); err == nil {
					rec.Decoded = decoded
				} else {
					logger.Warn("event payload does not decode", "event", name, "error", err)
				}
			}
			select {
			case records <- rec:
			case <-quit:
			}
		})
	}
	formatter.VerboseLog("Listening for %d event(s)", len(subscribed))

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			if err := c.Err(); err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeConnect, "connection lost", err, nil)
			}
			return nil
		case rec := <-records:
			if err := writeEvent(formatter, rec); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

func writeEvent(f *OutputFormatter, rec EventRecord) error {
	if f.Format == "json" {
		return f.Success(rec)
	}
	label := rec.Event
	if label == "" {
		label = strconv.Itoa(int(rec.Index))
	}
	body := rec.Payload
	if rec.Decoded != nil {
		body = string(rec.Decoded)
	}
	_, err := fmt.Fprintf(f.Writer, "%s %s\n", label, body)
	return err
}
