package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/pkg/client"
	"github.com/roach88/fwrpc/pkg/transport"
)

// startSimulator runs `simulate` until the test ends and returns the
// status it printed.
func startSimulator(t *testing.T, args ...string) SimulateStatus {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	cmd := NewRootCommand()
	cmd.SetOut(pw)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--format", "json", "simulate", "--listen", "127.0.0.1:0"}, args...))

	done := make(chan error, 1)
	go func() {
		err := cmd.ExecuteContext(ctx)
		_ = pw.Close()
		done <- err
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("simulate did not stop")
		}
	})

	line, err := bufio.NewReader(pr).ReadBytes('\n')
	require.NoError(t, err)
	go func() { _, _ = io.Copy(io.Discard, pr) }()

	var resp struct {
		Status string         `json:"status"`
		Data   SimulateStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(line, &resp), string(line))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func dialSimulator(t *testing.T, addr string) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := transport.DialMessage(ctx, addr, transport.WithLogger(quietLogger()))
	require.NoError(t, err)
	c, err := client.New(tr, client.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSimulateServesProject(t *testing.T) {
	path := writeProject(t, appHeader, false)
	reg := projectRegistry(t, path)

	status := startSimulator(t, "--stub", "--metrics", path)
	assert.Equal(t, transport.Path, status.Path)
	assert.Equal(t, 9, status.Endpoints)
	assert.Equal(t, reg.Compat, status.Compat)

	c := dialSimulator(t, status.Addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ep, _ := reg.Endpoint("set_level")
	_, err := c.Call(ctx, ep.ID, []byte{0x08, 0x01})
	assert.NoError(t, err, "stubbed endpoints answer")

	ep, _ = reg.Endpoint("get_api_hash")
	reply, err := c.Call(ctx, ep.ID, nil)
	require.NoError(t, err)
	v, err := scalarField(reply)
	require.NoError(t, err)
	assert.Equal(t, uint64(reg.Compat.API), v)

	resp, err := http.Get("http://" + status.Addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `fwrpc_devicesim_requests_total{outcome="ok"}`)
}

func TestSimulateWithoutStubRejectsAppEndpoints(t *testing.T) {
	path := writeProject(t, appHeader, false)
	reg := projectRegistry(t, path)

	status := startSimulator(t, path)
	c := dialSimulator(t, status.Addr)

	ep, _ := reg.Endpoint("set_level")
	_, err := c.Call(context.Background(), ep.ID, nil)
	_, ok := client.IsRemoteError(err)
	assert.True(t, ok, "got %v", err)
}

func TestSimulateHeartbeat(t *testing.T) {
	path := writeProject(t, appHeader, false)
	reg := projectRegistry(t, path)

	status := startSimulator(t, "--heartbeat", "button_pressed", "--payload", `{"value": 3}`, "--every", "20ms", path)
	c := dialSimulator(t, status.Addr)

	ev, _ := reg.Event("button_pressed")
	received := make(chan []byte, 8)
	c.OnEvent(ev.Index, func(payload []byte) {
		select {
		case received <- payload:
		default:
		}
	})

	select {
	case payload := <-received:
		assert.Equal(t, []byte{0x08, 0x03}, payload)
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestSimulateRejectsUnknownHeartbeat(t *testing.T) {
	path := writeProject(t, appHeader, false)

	_, err := execute(t, context.Background(), "simulate", "--listen", "127.0.0.1:0", "--heartbeat", "missing", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
}
