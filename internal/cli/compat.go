package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/config"
	"github.com/roach88/fwrpc/internal/store"
	"github.com/roach88/fwrpc/pkg/client"
)

// CompatOptions holds flags for the compat command.
type CompatOptions struct {
	*RootOptions
	Link LinkOptions
}

// LockStatus is the layout lock part of a compat report.
type LockStatus struct {
	Path    string   `json:"path"`
	LastRun string   `json:"last_run,omitempty"`
	Drift   []string `json:"drift,omitempty"`
}

// DeviceStatus is what a connected device reported.
type DeviceStatus struct {
	Compat   api.Compat `json:"compat"`
	Firmware string     `json:"firmware,omitempty"`
	Status   string     `json:"status"` // "compatible", "drift" or "breaking"
}

// CompatResult is the compatibility report of a project.
type CompatResult struct {
	Domain string        `json:"domain"`
	Local  api.Compat    `json:"local"`
	Lock   *LockStatus   `json:"lock,omitempty"`
	Device *DeviceStatus `json:"device,omitempty"`
}

// NewCompatCommand creates the compat command.
func NewCompatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compat <config>",
		Short: "Report compatibility hashes and layout drift",
		Long: `Print the core, reserved and API hashes of a project and check them
against the layout lock, if one was recorded.

With --addr or --device the hashes are also read from a running device.
A differing core or reserved hash is breaking (exit 1); a differing API
hash alone is reported as drift.

Example:
  fwrpc compat ./fwrpc.yaml
  fwrpc compat --addr 127.0.0.1:7700 ./fwrpc.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompat(opts, args[0], cmd)
		},
	}

	addLinkFlags(cmd, &opts.Link)

	return cmd
}

func runCompat(opts *CompatOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	ctx := cmd.Context()

	cfg, err := loadConfig(formatter, path)
	if err != nil {
		return err
	}
	_, reg, err := loadRegistry(ctx, formatter, cfg, logger)
	if err != nil {
		return err
	}
	result := CompatResult{Domain: cfg.Domain, Local: reg.Compat}

	lock, err := lockStatus(ctx, cfg, reg, logger)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "read layout lock", err, nil)
	}
	result.Lock = lock

	if opts.Link.configured() {
		c, err := opts.Link.connect(ctx, formatter, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := queryDevice(ctx, c, reg, opts.Link.Timeout)
		if err != nil {
			if remote, ok := client.IsRemoteError(err); ok {
				return formatter.Fail(ExitFailure, ErrCodeRemote, "device rejected hash request", err, remoteDetails(remote))
			}
			return formatter.Fail(ExitCommandError, ErrCodeConnect, "query device", err, nil)
		}
		result.Device = status
	}

	switch {
	case result.Device != nil && result.Device.Status == "breaking":
		return compatProblem(formatter, result, ErrCodeIncompatible, "device is incompatible")
	case result.Lock != nil && len(result.Lock.Drift) > 0:
		return compatProblem(formatter, result, ErrCodeDrift, fmt.Sprintf("layout drift in %s", cfg.Domain))
	}
	return formatter.Render(result, func(w io.Writer) { writeCompatReport(w, result) })
}

// lockStatus checks reg against the layout lock. A lock that was never
// written is reported as absent rather than created.
func lockStatus(ctx context.Context, cfg *config.Config, reg *api.Registry, logger *slog.Logger) (*LockStatus, error) {
	path := cfg.LockPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	st, err := store.Open(path, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer st.Close()

	status := &LockStatus{Path: path}
	last, ok, err := st.LastRun(ctx, cfg.Domain)
	if err != nil {
		return nil, err
	}
	if ok {
		status.LastRun = last.ID
	}
	if err := st.Check(ctx, reg); err != nil {
		var drift *store.LayoutDrift
		if !errors.As(err, &drift) {
			return nil, err
		}
		status.Drift = driftLines(drift)
	}
	return status, nil
}

func queryDevice(ctx context.Context, c *client.Client, reg *api.Registry, timeout time.Duration) (*DeviceStatus, error) {
	var peer api.Compat
	for _, q := range []struct {
		name string
		dst  *uint32
	}{
		{"get_core_hash", &peer.Core},
		{"get_reserved_hash", &peer.Reserved},
		{"get_api_hash", &peer.API},
	} {
		reply, err := callReserved(ctx, c, reg, q.name, timeout)
		if err != nil {
			return nil, err
		}
		v, err := scalarField(reply)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", q.name, err)
		}
		*q.dst = uint32(v)
	}

	status := &DeviceStatus{Compat: peer, Status: "compatible"}
	if _, ok := reg.Endpoint("get_firmware_version"); ok {
		reply, err := callReserved(ctx, c, reg, "get_firmware_version", timeout)
		if err != nil {
			return nil, err
		}
		status.Firmware = stringField(reply)
	}

	breaking, drift := reg.Compat.Compare(peer)
	switch {
	case breaking:
		status.Status = "breaking"
	case drift:
		status.Status = "drift"
	}
	return status, nil
}

func callReserved(ctx context.Context, c *client.Client, reg *api.Registry, name string, timeout time.Duration) ([]byte, error) {
	ep, ok := reg.Endpoint(name)
	if !ok {
		return nil, fmt.Errorf("%s is not declared", name)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Call(callCtx, ep.ID, nil)
}

// scalarField reads field 1 of a wrapper message as a varint. An empty
// payload is the zero value.
func scalarField(payload []byte) (uint64, error) {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		payload = payload[n:]
		if num == 1 && typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(payload)
			if m < 0 {
				return 0, protowire.ParseError(m)
			}
			return v, nil
		}
		m := protowire.ConsumeFieldValue(num, typ, payload)
		if m < 0 {
			return 0, protowire.ParseError(m)
		}
		payload = payload[m:]
	}
	return 0, nil
}

func stringField(payload []byte) string {
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return ""
		}
		payload = payload[n:]
		if num == 1 && typ == protowire.BytesType {
			v, m := protowire.ConsumeString(payload)
			if m < 0 {
				return ""
			}
			return v
		}
		m := protowire.ConsumeFieldValue(num, typ, payload)
		if m < 0 {
			return ""
		}
		payload = payload[m:]
	}
	return ""
}

// compatProblem prints the report and fails with ExitFailure.
func compatProblem(f *OutputFormatter, result CompatResult, code, message string) error {
	return f.Report(result, code, message, func(w io.Writer) { writeCompatReport(w, result) })
}

func writeCompatReport(w io.Writer, r CompatResult) {
	fmt.Fprintf(w, "domain %s\n", r.Domain)
	writeCompat(w, r.Local)
	if r.Lock != nil {
		if r.Lock.LastRun != "" {
			fmt.Fprintf(w, "lock %s (last run %s)\n", r.Lock.Path, r.Lock.LastRun)
		} else {
			fmt.Fprintf(w, "lock %s (no runs recorded)\n", r.Lock.Path)
		}
		for _, d := range r.Lock.Drift {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
	if r.Device != nil {
		fmt.Fprintf(w, "device: %s", r.Device.Status)
		if r.Device.Firmware != "" {
			fmt.Fprintf(w, " (firmware %s)", r.Device.Firmware)
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, "  ")
		writeCompat(w, r.Device.Compat)
	}
}

func remoteDetails(e *client.RemoteError) map[string]interface{} {
	return map[string]interface{}{
		"handler": e.Handler,
		"code":    e.Code,
		"payload": fmt.Sprintf("%x", e.Payload),
	}
}
