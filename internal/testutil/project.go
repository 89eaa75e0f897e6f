package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/config"
	"github.com/roach88/fwrpc/internal/pipeline"
)

// ReservedHeader declares the six reserved endpoints in the order that
// gives them IDs 0 through 5.
const ReservedHeader = `
namespace sys {
[[rpc::endpoint]] void get_core_hash(uint32_t& hash);
[[rpc::endpoint]] void get_reserved_hash(uint32_t& hash);
[[rpc::endpoint]] void get_api_hash(uint32_t& hash);
[[rpc::endpoint]] void get_firmware_version(std::string& version);
[[rpc::endpoint]] void reboot();
[[rpc::endpoint]] void ping();
}
`

// Project describes a project to lay out with WriteProject.
type Project struct {
	Domain string
	// Headers maps file names under src/ to their contents. sys.h is
	// listed first when present so the reserved block keeps its IDs.
	Headers map[string]string
	Lock    bool
}

// WriteProject writes p into a temporary directory and returns the path
// of its fwrpc.yaml.
func WriteProject(t testing.TB, p Project) string {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))

	names := make([]string, 0, len(p.Headers))
	for name, body := range p.Headers {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(body), 0o644))
		if name != "sys.h" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := p.Headers["sys.h"]; ok {
		names = append([]string{"sys.h"}, names...)
	}

	domain := p.Domain
	if domain == "" {
		domain = "device"
	}
	var b strings.Builder
	b.WriteString("domain: " + domain + "\n")
	if p.Lock {
		b.WriteString("lock_db: layout.db\n")
	}
	b.WriteString("components:\n  - name: firmware\n    root: src\n")
	b.WriteString("    files: [" + strings.Join(names, ", ") + "]\n")

	path := filepath.Join(dir, "fwrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// AppProject is a project with the reserved block in sys.h and app in
// app.h.
func AppProject(t testing.TB, app string, lock bool) string {
	t.Helper()
	return WriteProject(t, Project{
		Headers: map[string]string{"sys.h": ReservedHeader, "app.h": app},
		Lock:    lock,
	})
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Registry builds the API registry of the project at path.
func Registry(t testing.TB, path string) *api.Registry {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	p, err := pipeline.Prepare(context.Background(), cfg, pipeline.WithLogger(Logger()))
	require.NoError(t, err)
	require.NoError(t, p.Register())
	reg, err := p.API()
	require.NoError(t, err)
	return reg
}
