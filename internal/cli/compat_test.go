package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/devicesim"
)

func TestCompatReportsLocalHashes(t *testing.T) {
	path := writeProject(t, appHeader, false)
	reg := projectRegistry(t, path)

	out, err := execute(t, context.Background(), "--format", "json", "compat", path)
	require.NoError(t, err)

	var result CompatResult
	decodeData(t, out, &result)
	assert.Equal(t, "device", result.Domain)
	assert.Equal(t, reg.Compat, result.Local)
	assert.Nil(t, result.Lock)
	assert.Nil(t, result.Device)
}

func TestCompatAgainstMatchingDevice(t *testing.T) {
	path := writeProject(t, appHeader, false)
	d, err := devicesim.New(projectRegistry(t, path), devicesim.WithLogger(quietLogger()), devicesim.WithFirmwareVersion("2.0.1"))
	require.NoError(t, err)
	addr := serveDevice(t, d)

	out, err := execute(t, context.Background(), "--format", "json", "compat", "--addr", addr, path)
	require.NoError(t, err)

	var result CompatResult
	decodeData(t, out, &result)
	require.NotNil(t, result.Device)
	assert.Equal(t, "compatible", result.Device.Status)
	assert.Equal(t, "2.0.1", result.Device.Firmware)
	assert.Equal(t, result.Local, result.Device.Compat)
}

func TestCompatDetectsAPIDrift(t *testing.T) {
	// The device was built before set_level existed.
	older := writeProject(t, `
namespace app {
struct Status { uint8_t mode; uint16_t temperature; };

[[rpc::endpoint]] void get_status(Status& status);
[[rpc::endpoint]] void get_level(uint8_t& level);
[[rpc::event]] void button_pressed(const uint8_t& button);
}
`, false)
	d, err := devicesim.New(projectRegistry(t, older), devicesim.WithLogger(quietLogger()))
	require.NoError(t, err)
	addr := serveDevice(t, d)

	path := writeProject(t, appHeader, false)
	out, err := execute(t, context.Background(), "compat", "--addr", addr, path)
	require.NoError(t, err)
	assert.Contains(t, out, "device: drift")
}

func TestCompatDetectsBreakingDevice(t *testing.T) {
	path := writeProject(t, appHeader, false)
	other := writeProject(t, appHeader, false)
	// A different reboot signature changes the reserved hash.
	sys := filepath.Join(filepath.Dir(other), "src", "sys.h")
	changed := []byte(`
namespace sys {
[[rpc::endpoint]] void get_core_hash(uint32_t& hash);
[[rpc::endpoint]] void get_reserved_hash(uint32_t& hash);
[[rpc::endpoint]] void get_api_hash(uint32_t& hash);
[[rpc::endpoint]] void get_firmware_version(std::string& version);
[[rpc::endpoint]] void reboot(const uint8_t& mode);
[[rpc::endpoint]] void ping();
}
`)
	require.NoError(t, os.WriteFile(sys, changed, 0o644))

	d, err := devicesim.New(projectRegistry(t, other), devicesim.WithLogger(quietLogger()))
	require.NoError(t, err)
	addr := serveDevice(t, d)

	out, err := execute(t, context.Background(), "--format", "json", "compat", "--addr", addr, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result CompatResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeIncompatible, resp.Error.Code)
	require.NotNil(t, result.Device)
	assert.Equal(t, "breaking", result.Device.Status)
	assert.Equal(t, result.Local.Core, result.Device.Compat.Core)
	assert.NotEqual(t, result.Local.Reserved, result.Device.Compat.Reserved)
}

func TestCompatReportsLockDrift(t *testing.T) {
	ctx := context.Background()
	path := writeProject(t, appHeader, true)

	// No lock written yet.
	out, err := execute(t, ctx, "--format", "json", "compat", path)
	require.NoError(t, err)
	var before CompatResult
	decodeData(t, out, &before)
	assert.Nil(t, before.Lock)

	_, err = execute(t, ctx, "generate", path)
	require.NoError(t, err)

	out, err = execute(t, ctx, "--format", "json", "compat", path)
	require.NoError(t, err)
	var locked CompatResult
	decodeData(t, out, &locked)
	require.NotNil(t, locked.Lock)
	assert.NotEmpty(t, locked.Lock.LastRun)
	assert.Empty(t, locked.Lock.Drift)

	without := `
namespace app {
struct Status { uint8_t mode; uint16_t temperature; };

[[rpc::endpoint]] void get_status(Status& status);
[[rpc::endpoint]] void set_level(const uint8_t& level);
[[rpc::event]] void button_pressed(const uint8_t& button);
}
`
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "src", "app.h"), []byte(without), 0o644))

	out, err = execute(t, ctx, "compat", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "endpoint get_level")
	assert.Contains(t, out, "was removed")
	assert.Contains(t, out, "Error [E008]")
}

func TestCompatUnreachableDevice(t *testing.T) {
	path := writeProject(t, appHeader, false)

	_, err := execute(t, context.Background(), "compat", "--addr", "127.0.0.1:1", "--timeout", "500ms", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeConnect)
}
