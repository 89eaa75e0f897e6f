package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fwrpc/internal/devicesim"
	"github.com/roach88/fwrpc/internal/testutil"
)

const appHeader = `
namespace app {
[[rpc::endpoint]] void get_level(uint8_t& level);
[[rpc::endpoint]] void set_level(const uint8_t& level);
[[rpc::event]] void tick();
}
`

func quiet() Option { return WithLogger(testutil.Logger()) }

func u16(v uint16) *uint16 { return &v }

// =============================================================================
// Golden scenarios
// =============================================================================

func TestScenariosMatchGolden(t *testing.T) {
	files, err := Discover([]string{"testdata/scenarios"})
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s, quiet())
			require.NoError(t, err)
			assert.True(t, result.Pass, "%v", result.Errors)
		})
	}
}

// =============================================================================
// Run
// =============================================================================

func TestRunReportsMismatches(t *testing.T) {
	s := &Scenario{
		Name:   "mismatches",
		Config: testutil.AppProject(t, appHeader, false),
		Device: DeviceSetup{Handlers: map[string]Handler{
			"get_level": {Reply: map[string]any{"level": 4}},
		}},
		Flow: []Step{
			{Call: "get_level", Expect: &Expect{Result: map[string]any{"level": 5}}},
			{Call: "set_level", Args: map[string]any{"value": 1}},
			{Call: "get_level", Expect: &Expect{Fault: u16(3)}},
		},
		Assertions: []Assertion{
			{Type: AssertTraceCount, Kind: KindResponse, Name: "get_level", Count: 1},
		},
	}

	result, err := Run(context.Background(), s, quiet())
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected result")
	assert.Contains(t, result.Errors[1], "unexpected fault 65535")
	assert.Contains(t, result.Errors[2], "expected fault 3, got a response")
	assert.Contains(t, result.Errors[3], "trace_count")

	require.Len(t, result.Trace, 6)
	assert.Equal(t, KindFault, result.Trace[3].Kind)
	assert.Equal(t, devicesim.CodeUnknownHandler, result.Trace[3].Code)
}

func TestRunEmptyHandlerReplies(t *testing.T) {
	s := &Scenario{
		Name:   "empty",
		Config: testutil.AppProject(t, appHeader, false),
		Device: DeviceSetup{Handlers: map[string]Handler{"set_level": {}}},
		Flow: []Step{
			{Call: "set_level", Args: map[string]any{"value": 1}, Expect: &Expect{}},
			{Emit: "tick"},
		},
	}

	result, err := Run(context.Background(), s, quiet())
	require.NoError(t, err)
	assert.True(t, result.Pass, "%v", result.Errors)
	require.Len(t, result.Trace, 3)
	assert.Equal(t, "0801", result.Trace[0].Payload)
	assert.Equal(t, KindResponse, result.Trace[1].Kind)
	assert.Equal(t, KindEvent, result.Trace[2].Kind)
	assert.Equal(t, "", result.Trace[2].Payload)
}

func TestRunSetupErrors(t *testing.T) {
	path := testutil.AppProject(t, appHeader, false)

	tests := []struct {
		name     string
		scenario *Scenario
	}{
		{"missing config", &Scenario{Name: "x", Config: filepath.Join(t.TempDir(), "nope.yaml"), Flow: []Step{{Call: "ping"}}}},
		{"unknown handler", &Scenario{Name: "x", Config: path, Device: DeviceSetup{Handlers: map[string]Handler{"missing": {}}}, Flow: []Step{{Call: "ping"}}}},
		{"bad reply", &Scenario{Name: "x", Config: path, Device: DeviceSetup{Handlers: map[string]Handler{"get_level": {Reply: map[string]any{"nope": 1}}}}, Flow: []Step{{Call: "ping"}}}},
		{"unknown call", &Scenario{Name: "x", Config: path, Flow: []Step{{Call: "missing"}}}},
		{"unknown event", &Scenario{Name: "x", Config: path, Flow: []Step{{Emit: "missing"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.scenario, quiet())
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Scenario files
// =============================================================================

func TestLoadScenarioResolvesConfig(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/events.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "project", "fwrpc.yaml"), s.Config)
	assert.Len(t, s.Flow, 3)
	assert.Equal(t, "button_pressed", s.Flow[0].Emit)
	assert.Equal(t, 2, s.Flow[0].Args["value"])
}

func TestLoadScenarioMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nconfig: absent.yaml\nflow:\n  - call: ping\n"), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config not found")
}

func TestParseScenarioRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: s\nconfig: c\nflows: []\n", "failed to parse YAML"},
		{"no name", "config: c\nflow:\n  - call: ping\n", "name is required"},
		{"no config", "name: s\nflow:\n  - call: ping\n", "config is required"},
		{"no flow", "name: s\nconfig: c\n", "flow list is required"},
		{"two actions", "name: s\nconfig: c\nflow:\n  - call: ping\n    emit: tick\n", "exactly one of"},
		{"expect on emit", "name: s\nconfig: c\nflow:\n  - emit: tick\n    expect: {fault: 1}\n", "only calls"},
		{"result and fault", "name: s\nconfig: c\nflow:\n  - call: ping\n    expect: {fault: 1, result: {}}\n", "exclusive"},
		{"reply and fault", "name: s\nconfig: c\ndevice:\n  handlers:\n    ping: {fault: 1, reply: {}}\nflow:\n  - call: ping\n", "exclusive"},
		{"unknown assertion", "name: s\nconfig: c\nflow:\n  - call: ping\nassertions:\n  - type: final_state\n", "unknown assertion type"},
		{"unknown kind", "name: s\nconfig: c\nflow:\n  - call: ping\nassertions:\n  - type: trace_count\n    kind: invocation\n    name: ping\n", "unknown kind"},
		{"order without names", "name: s\nconfig: c\nflow:\n  - call: ping\nassertions:\n  - type: trace_order\n", "names list is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.yml", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	single := filepath.Join(dir, "notes.txt")

	files, err := Discover([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yml"), filepath.Join(dir, "b.yaml"), single}, files)

	_, err = Discover([]string{filepath.Join(dir, "missing")})
	var notFound *ScenarioNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
