package cli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/codegen"
	"github.com/roach88/fwrpc/pkg/client"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Link   LinkOptions
	Config string
	Raw    bool
}

// CallResult is one request and its reply.
type CallResult struct {
	Endpoint string          `json:"endpoint,omitempty"`
	Handler  uint16          `json:"handler"`
	Request  string          `json:"request"`  // hex
	Response string          `json:"response"` // hex
	Decoded  json.RawMessage `json:"decoded,omitempty"`
}

// project is the optional registry a device command resolves names with.
type project struct {
	reg   *api.Registry
	codec *codegen.Codec
}

func loadProject(ctx context.Context, f *OutputFormatter, path string, logger *slog.Logger) (*project, error) {
	if path == "" {
		return nil, nil
	}
	cfg, err := loadConfig(f, path)
	if err != nil {
		return nil, err
	}
	_, reg, err := loadRegistry(ctx, f, cfg, logger)
	if err != nil {
		return nil, err
	}
	codec, err := codegen.NewCodec(reg)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeEmit, "build payload codec", err, nil)
	}
	return &project{reg: reg, codec: codec}, nil
}

// endpoint resolves a name or numeric handler ID.
func (p *project) endpoint(ref string) (*api.Endpoint, bool) {
	if id, err := strconv.ParseUint(ref, 0, 16); err == nil {
		return p.reg.EndpointByID(uint16(id))
	}
	return p.reg.Endpoint(ref)
}

// event resolves a name or numeric event index.
func (p *project) event(ref string) (*api.Event, bool) {
	if idx, err := strconv.ParseUint(ref, 0, 16); err == nil {
		if int(idx) < len(p.reg.Events) {
			return p.reg.Events[idx], true
		}
		return nil, false
	}
	return p.reg.Event(ref)
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <endpoint> [payload]",
		Short: "Call an endpoint on a device",
		Long: `Send one request to a device and print the reply.

With --config the endpoint may be named and the payload is JSON, encoded
with the project's schema; the reply is decoded the same way. Without a
config (or with --raw) the endpoint is a numeric handler ID and the
payload is hex.

Example:
  fwrpc call --addr 127.0.0.1:7700 --config fwrpc.yaml set_level '{"value":7}'
  fwrpc call --device /dev/ttyUSB0 5 0807`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := ""
			if len(args) == 2 {
				payload = args[1]
			}
			return runCall(opts, args[0], payload, cmd)
		},
	}

	addLinkFlags(cmd, &opts.Link)
	cmd.Flags().StringVar(&opts.Config, "config", "", "project file used to resolve names and encode payloads")
	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "treat payloads as hex even with --config")

	return cmd
}

func runCall(opts *CallOptions, ref, payload string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx := cmd.Context()

	if err := opts.Link.validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "no device", err, nil)
	}
	proj, err := loadProject(ctx, formatter, opts.Config, logger)
	if err != nil {
		return err
	}

	var result CallResult
	var body []byte
	var ep *api.Endpoint
	if proj != nil {
		var ok bool
		ep, ok = proj.endpoint(ref)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("unknown endpoint %q", ref), nil, nil)
		}
		result.Endpoint = ep.Name
		result.Handler = ep.ID
	} else {
		id, err := strconv.ParseUint(ref, 0, 16)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "endpoint must be a numeric handler ID without --config", err, nil)
		}
		result.Handler = uint16(id)
	}

	if ep != nil && !opts.Raw {
		js := payload
		if js == "" {
			js = "{}"
		}
		_, body, err = proj.codec.EncodeRequest(ep.Name, []byte(js))
	} else {
		body, err = decodeHex(payload)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodePayload, "encode request", err, nil)
	}
	result.Request = hex.EncodeToString(body)

	c, err := opts.Link.connect(ctx, formatter, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	callCtx, cancel := context.WithTimeout(ctx, opts.Link.Timeout)
	defer cancel()
	reply, err := c.Call(callCtx, result.Handler, body)
	if err != nil {
		if remote, ok := client.IsRemoteError(err); ok {
			return formatter.Fail(ExitFailure, ErrCodeRemote, fmt.Sprintf("device returned error %d", remote.Code), nil, remoteDetails(remote))
		}
		return formatter.Fail(ExitCommandError, ErrCodeConnect, "call failed", err, nil)
	}
	result.Response = hex.EncodeToString(reply)

	if ep != nil && !opts.Raw {
		decoded, err := proj.codec.DecodeResponse(ep.Name, reply)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodePayload, "decode response", err, map[string]string{"response": result.Response})
		}
		result.Decoded = decoded
	}

	return formatter.Render(result, func(w io.Writer) {
		if result.Decoded != nil {
			fmt.Fprintln(w, string(result.Decoded))
			return
		}
		fmt.Fprintln(w, result.Response)
	})
}

func decodeHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(s), "0x"), " ", "")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}
