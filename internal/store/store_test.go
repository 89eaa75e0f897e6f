package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/symbols"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "lock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// registry builds the "device" API from src.
func registry(t *testing.T, src string) *api.Registry {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := symbols.NewBuilder(symbols.WithLogger(quiet))
	require.NoError(t, b.AddSource(context.Background(), "device", "device.h", []byte(src)))
	db, err := b.Finalize()
	require.NoError(t, err)
	dtos, err := dto.NewRegistry(db, dto.WithLogger(quiet))
	require.NoError(t, err)
	reg, err := api.Build(dtos, "device", api.WithLogger(quiet), api.WithReserved(nil, 0))
	require.NoError(t, err)
	return reg
}

const shipped = `
[[rpc::endpoint]] void reset();
[[rpc::endpoint]] void set_gain(const float& gain);
[[rpc::endpoint]] void get_gain(float& gain);
[[rpc::event]] void tick();
`

// =============================================================================
// Open
// =============================================================================

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"generation_runs", "endpoint_ids"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", fmt.Sprint(SchemaVersion)))
}

func TestOpen_BusyTimeoutOption(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "lock.db"), WithBusyTimeout(250*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("busy_timeout", "250"))
}

func TestOpen_MigratesOlderLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock.db")
	s, err := Open(path)
	require.NoError(t, err)
	// Roll the lock back to the shape an early release wrote.
	_, err = s.db.Exec("DROP INDEX idx_endpoint_ids_handler; DROP INDEX idx_generation_runs_domain; PRAGMA user_version = 0")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.verifyPragma("user_version", fmt.Sprint(SchemaVersion)))
	for _, idx := range []string{"idx_endpoint_ids_handler", "idx_generation_runs_domain"} {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		assert.NoError(t, err, idx)
	}
}

func TestOpen_MigrationAddsHandlerIndex(t *testing.T) {
	s := createTestStore(t)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_endpoint_ids_handler'",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}

// =============================================================================
// Layout lock
// =============================================================================

func TestCheck_EmptyLockAcceptsAnything(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.Check(context.Background(), registry(t, shipped)))
}

func TestRecord_ThenCheckSameLayout(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	reg := registry(t, shipped)

	run, err := s.Record(ctx, reg, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.Seq)
	assert.Equal(t, reg.Compat, run.Compat)
	assert.Equal(t, 3, run.Endpoints)
	assert.Equal(t, 1, run.Events)

	id, err := uuid.Parse(run.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())

	assert.NoError(t, s.Check(ctx, registry(t, shipped)))

	locked, err := s.Locked(ctx, "device")
	require.NoError(t, err)
	assert.Equal(t, map[string]uint16{"reset": 0, "set_gain": 1, "get_gain": 2}, locked)
}

func TestCheck_AdditionsAtTheEndPass(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.Record(ctx, registry(t, shipped), "h1")
	require.NoError(t, err)

	grown := shipped + "[[rpc::endpoint]] void calibrate();\n[[rpc::event]] void overheat();\n"
	assert.NoError(t, s.Check(ctx, registry(t, grown)))
}

func TestCheck_ReportsMovedAndRemoved(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.Record(ctx, registry(t, shipped), "h1")
	require.NoError(t, err)

	reshuffled := `
[[rpc::endpoint]] void get_gain(float& gain);
[[rpc::endpoint]] void reset();
[[rpc::event]] void tick();
`
	err = s.Check(ctx, registry(t, reshuffled))
	require.Error(t, err)

	var drift *LayoutDrift
	require.True(t, errors.As(err, &drift))
	assert.Equal(t, "device", drift.Domain)
	assert.Equal(t, []Drift{
		{Kind: "endpoint", Name: "reset", Was: 0, Now: 1},
		{Kind: "endpoint", Name: "set_gain", Was: 1, Removed: true},
		{Kind: "endpoint", Name: "get_gain", Was: 2, Now: 0},
	}, drift.Drifts)
	assert.Contains(t, err.Error(), "endpoint set_gain (id 1) was removed")
	assert.Contains(t, err.Error(), "endpoint get_gain moved from id 2 to 0")
}

func TestRecord_AcceptsNewLayout(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	first, err := s.Record(ctx, registry(t, shipped), "h1")
	require.NoError(t, err)

	swapped := `
[[rpc::endpoint]] void set_gain(const float& gain);
[[rpc::endpoint]] void reset();
[[rpc::endpoint]] void get_gain(float& gain);
[[rpc::event]] void tick();
`
	reg := registry(t, swapped)
	require.Error(t, s.Check(ctx, reg))

	second, err := s.Record(ctx, reg, "h2")
	require.NoError(t, err, "swapping two IDs must not trip the handler index")
	assert.NoError(t, s.Check(ctx, reg))

	var firstRun, lastRun string
	require.NoError(t, s.db.QueryRow(
		"SELECT first_run, last_run FROM endpoint_ids WHERE domain = 'device' AND name = 'reset'",
	).Scan(&firstRun, &lastRun))
	assert.Equal(t, first.ID, firstRun)
	assert.Equal(t, second.ID, lastRun)
}

func TestRuns_OrderedBySeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, ok, err := s.LastRun(ctx, "device")
	require.NoError(t, err)
	assert.False(t, ok)

	reg := registry(t, shipped)
	for _, h := range []string{"h1", "h2", "h3"} {
		_, err := s.Record(ctx, reg, h)
		require.NoError(t, err)
	}

	runs, err := s.Runs(ctx, "device")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for i, r := range runs {
		assert.Equal(t, int64(i+1), r.Seq)
		assert.Equal(t, reg.Compat, r.Compat)
	}
	assert.Equal(t, "h1", runs[0].ManifestHash)

	last, ok, err := s.LastRun(ctx, "device")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h3", last.ManifestHash)

	other, err := s.Runs(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, other)
}
