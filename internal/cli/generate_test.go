package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/codegen"
)

func TestGenerateWritesArtifacts(t *testing.T) {
	path := writeProject(t, appHeader, false)

	out, err := execute(t, context.Background(), "--format", "json", "generate", path)
	require.NoError(t, err)

	var result GenerateResult
	resp := decodeData(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "device", result.Domain)
	assert.Equal(t, 9, result.Endpoints)
	assert.Equal(t, 1, result.Events)
	assert.Contains(t, result.Files, "device.proto")
	assert.Contains(t, result.Files, codegen.ManifestFile)
	assert.NotEmpty(t, result.ManifestHash)
	assert.Empty(t, result.Run)

	for _, f := range result.Files {
		_, err := os.Stat(filepath.Join(result.OutputDir, f))
		assert.NoError(t, err, f)
	}
}

func TestGenerateDryRun(t *testing.T) {
	path := writeProject(t, appHeader, true)

	out, err := execute(t, context.Background(), "generate", "--dry-run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Would write")
	assert.Contains(t, out, "api_hash: 0x")

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "gen"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateDetectsDrift(t *testing.T) {
	ctx := context.Background()
	path := writeProject(t, appHeader, true)

	out, err := execute(t, ctx, "generate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "layout recorded as run")

	reordered := `
namespace app {
struct Status { uint8_t mode; uint16_t temperature; };

[[rpc::endpoint]] void set_level(const uint8_t& level);
[[rpc::endpoint]] void get_status(Status& status);
[[rpc::endpoint]] void get_level(uint8_t& level);
[[rpc::event]] void button_pressed(const uint8_t& button);
}
`
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "src", "app.h"), []byte(reordered), 0o644))

	out, err = execute(t, ctx, "generate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeDrift)
	assert.Contains(t, out, "moved from id")
	assert.Contains(t, out, "--accept-drift")

	out, err = execute(t, ctx, "generate", "--accept-drift", path)
	require.NoError(t, err)
	assert.Contains(t, out, "accepted layout drift")
	assert.Contains(t, out, "layout recorded as run")

	_, err = execute(t, ctx, "generate", path)
	assert.NoError(t, err)
}

func TestGenerateMissingConfig(t *testing.T) {
	out, err := execute(t, context.Background(), "generate", filepath.Join(t.TempDir(), "fwrpc.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}

func TestGenerateInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fwrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domain: device\nbogus: 1\n"), 0o644))

	out, err := execute(t, context.Background(), "--format", "json", "generate", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decodeData(t, out, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestGenerateReportsValidationErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.h"), []byte(appHeader), 0o644))
	path := filepath.Join(dir, "fwrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("domain: device\ncomponents:\n  - name: app\n    files: [app.h]\n"), 0o644))

	out, err := execute(t, context.Background(), "generate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
	assert.Contains(t, out, "E204")
}
