package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/devicesim"
	"github.com/roach88/fwrpc/internal/testutil"
)

const appHeader = `
namespace app {
struct Status { uint8_t mode; uint16_t temperature; };

[[rpc::endpoint]] void get_status(Status& status);
[[rpc::endpoint]] void get_level(uint8_t& level);
[[rpc::endpoint]] void set_level(const uint8_t& level);
[[rpc::event]] void button_pressed(const uint8_t& button);
}
`

// writeProject lays out the reserved block in sys.h and app in app.h,
// returning the config path.
func writeProject(t *testing.T, app string, lock bool) string {
	t.Helper()
	return testutil.AppProject(t, app, lock)
}

func quietLogger() *slog.Logger { return testutil.Logger() }

func projectRegistry(t *testing.T, path string) *api.Registry {
	t.Helper()
	return testutil.Registry(t, path)
}

// serveDevice serves d over httptest and returns its host:port.
func serveDevice(t *testing.T, d *devicesim.Device) string {
	t.Helper()
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://")
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// decodeData unmarshals the data of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if v != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, v))
	}
	return raw.CLIResponse
}
