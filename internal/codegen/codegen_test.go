package codegen

import (
	"context"
	"encoding/json"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/params"
	"github.com/roach88/fwrpc/internal/symbols"
)

const deviceHeader = `
namespace app {
struct Foo {
    int32_t bar;
    float gain;
};

[[rpc::endpoint]] void ping();
[[rpc::endpoint]] Error get_foo(Foo& foo);
[[rpc::endpoint]] void set_level(const uint8_t& level);
[[rpc::endpoint]] void move(const int32_t& x, const int32_t& y, Foo& result);
[[rpc::event]] void button_pressed(const uint8_t& button);
[[rpc::event]] void heartbeat();
}
`

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func deviceRegistry(t *testing.T) *api.Registry {
	t.Helper()
	b := symbols.NewBuilder(symbols.WithLogger(quiet()))
	require.NoError(t, b.AddSource(context.Background(), "device", "device.h", []byte(deviceHeader)))
	db, err := b.Finalize()
	require.NoError(t, err)
	require.Empty(t, db.Failures())

	dtos, err := dto.NewRegistry(db, dto.WithLogger(quiet()))
	require.NoError(t, err)
	reg, err := api.Build(dtos, "device", api.WithLogger(quiet()), api.WithReserved([]string{"ping"}, 1))
	require.NoError(t, err)
	return reg
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// =============================================================================
// Schema
// =============================================================================

func TestSchemaGolden(t *testing.T) {
	reg := deviceRegistry(t)
	out, err := Schema(reg, Options{GoImport: "example.com/device/devicepb"})
	require.NoError(t, err)
	golden(t).Assert(t, "schema", out)
}

func TestSchemaFile(t *testing.T) {
	assert.Equal(t, "device.proto", SchemaFile("device"))
	assert.Equal(t, "acme_device.proto", SchemaFile("acme.device"))
}

func TestSchemaWithoutGoImport(t *testing.T) {
	out, err := Schema(deviceRegistry(t), Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "go_package")
	assert.NotContains(t, string(out), "import")
}

func TestSchemaMultiInputRequest(t *testing.T) {
	src := `
struct Reading { int32_t raw; };
[[rpc::endpoint]] void get_both(Reading& reading);
[[rpc::endpoint]] void calibrate(const uint8_t& channel, const Reading& reading);
`
	b := symbols.NewBuilder(symbols.WithLogger(quiet()))
	require.NoError(t, b.AddSource(context.Background(), "sensor", "sensor.h", []byte(src)))
	db, err := b.Finalize()
	require.NoError(t, err)
	dtos, err := dto.NewRegistry(db, dto.WithLogger(quiet()))
	require.NoError(t, err)
	reg, err := api.Build(dtos, "sensor", api.WithLogger(quiet()), api.WithReserved(nil, 0))
	require.NoError(t, err)

	out, err := Schema(reg, Options{})
	require.NoError(t, err)
	assert.Contains(t, string(out), "message CalibrateRequest {\n  uint32 channel = 1;\n  Reading reading = 2;\n}\n")
	assert.NotContains(t, string(out), `import "params.proto";`)
}

func TestCheckSchemaRejectsMismatch(t *testing.T) {
	reg := deviceRegistry(t)
	msgs := reg.DTOs().DomainMessages("device")
	src := []byte("syntax = \"proto3\";\npackage device;\nmessage Foo { sint32 bar = 1; }\n")

	err := checkSchema(src, msgs[:1])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has 1 fields, want 2")

	err = checkSchema(src, msgs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsed 1 messages")

	err = checkSchema([]byte("message {"), msgs)
	assert.Error(t, err)
}

func TestParamsSchemaAddsGoPackage(t *testing.T) {
	plain := ParamsSchema(Options{})
	assert.Equal(t, params.ProtoSource(), plain)

	withImport := string(ParamsSchema(Options{GoImport: "example.com/device/devicepb"}))
	assert.Contains(t, withImport, "package fwrpc.params;\n\noption go_package = \"example.com/device/devicepb;devicepb\";\n")
}

// =============================================================================
// Manifest
// =============================================================================

func TestManifestGolden(t *testing.T) {
	out, err := Manifest(deviceRegistry(t))
	require.NoError(t, err)
	golden(t).Assert(t, "manifest", out)
}

func TestManifestHashIsStable(t *testing.T) {
	a, err := Manifest(deviceRegistry(t))
	require.NoError(t, err)
	b, err := Manifest(deviceRegistry(t))
	require.NoError(t, err)

	assert.Equal(t, ManifestHash(a), ManifestHash(b))
	assert.Len(t, ManifestHash(a), 64)
	assert.NotEqual(t, ManifestHash(a), ManifestHash(append(a, ' ')))
}

func TestCanonicalJSON(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted keys", map[string]any{"b": 1, "a": true, "c": "x"}, `{"a":true,"b":1,"c":"x"}`},
		{"nested", map[string]any{"z": []any{map[string]any{"y": uint16(2), "x": uint32(3)}}}, `{"z":[{"x":3,"y":2}]}`},
		{"no html escaping", "<a&b>", `"<a&b>"`},
		{"line separators kept", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"nfc", "e\u0301", "\"\u00e9\""},
		{"utf16 order", map[string]any{"\U0001F600": 1, "\uFB01": 2}, "{\"\U0001F600\":1,\"\uFB01\":2}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := marshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestCanonicalJSONRejectsFloatsAndNull(t *testing.T) {
	_, err := marshalCanonical(map[string]any{"f": 1.5})
	assert.Error(t, err)
	_, err = marshalCanonical([]any{nil})
	assert.Error(t, err)
}

// =============================================================================
// Descriptors and codec
// =============================================================================

func TestDescriptorsResolveEveryMessage(t *testing.T) {
	reg := deviceRegistry(t)
	files, err := Descriptors(reg)
	require.NoError(t, err)

	for _, m := range reg.DTOs().DomainMessages("device") {
		_, err := files.FindDescriptorByName(protoreflect.FullName(m.QualifiedName()))
		assert.NoError(t, err, m.QualifiedName())
	}
	_, err = files.FindDescriptorByName("fwrpc.params.Uint8Wire")
	assert.NoError(t, err)
}

func TestCodecEncodesRequests(t *testing.T) {
	codec, err := NewCodec(deviceRegistry(t))
	require.NoError(t, err)

	id, payload, err := codec.EncodeRequest("move", []byte(`{"x": 3, "y": -4}`))
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id)
	assert.Equal(t, []byte{0x08, 0x06, 0x10, 0x07}, payload, "sint32 fields are zigzag encoded")

	id, payload, err = codec.EncodeRequest("set_level", []byte(`{"value": 7}`))
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id)
	assert.Equal(t, []byte{0x08, 0x07}, payload)

	id, payload, err = codec.EncodeRequest("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), id)
	assert.Empty(t, payload)

	_, _, err = codec.EncodeRequest("missing", nil)
	assert.Error(t, err)

	_, _, err = codec.EncodeRequest("move", []byte(`{"z": 1}`))
	assert.Error(t, err)
}

func TestCodecDecodesResponses(t *testing.T) {
	codec, err := NewCodec(deviceRegistry(t))
	require.NoError(t, err)

	// GetFooResponse{foo: Foo{bar: -1}}
	out, err := codec.DecodeResponse("get_foo", []byte{0x0a, 0x02, 0x08, 0x01})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]any{
		"foo": map[string]any{"bar": float64(-1), "gain": float64(0)},
	}, got)

	out, err = codec.DecodeResponse("set_level", nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestCodecEncodesResponses(t *testing.T) {
	codec, err := NewCodec(deviceRegistry(t))
	require.NoError(t, err)

	payload, err := codec.EncodeResponse("get_foo", []byte(`{"foo": {"bar": -1}}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x02, 0x08, 0x01}, payload)

	payload, err = codec.EncodeResponse("set_level", nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = codec.EncodeResponse("missing", nil)
	assert.Error(t, err)
}

func TestCodecEvents(t *testing.T) {
	codec, err := NewCodec(deviceRegistry(t))
	require.NoError(t, err)

	payload, err := codec.EncodeEvent(0, []byte(`{"value": 2}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x02}, payload)

	out, err := codec.DecodeEvent(0, payload)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, map[string]any{"value": float64(2)}, got)

	payload, err = codec.EncodeEvent(1, nil)
	require.NoError(t, err)
	assert.Empty(t, payload)

	_, err = codec.EncodeEvent(2, nil)
	assert.Error(t, err)
}

// =============================================================================
// Go client
// =============================================================================

func TestGoName(t *testing.T) {
	tests := map[string]string{
		"get_foo":        "GetFoo",
		"button_pressed": "ButtonPressed",
		"ping":           "Ping",
		"set_level2":     "SetLevel2",
		"Foo":            "Foo",
		"Foo_Anonymous0": "Foo_Anonymous0",
		"_private":       "XPrivate",
	}
	for in, want := range tests {
		assert.Equal(t, want, goName(in), in)
	}
}

func TestClientSource(t *testing.T) {
	out, err := Client(deviceRegistry(t), Options{})
	require.NoError(t, err)
	src := string(out)

	f, err := parser.ParseFile(token.NewFileSet(), "client.go", out, parser.ParseComments)
	require.NoError(t, err)
	assert.Equal(t, "devicepb", f.Name.Name)

	for _, want := range []string{
		"// " + Header,
		`"github.com/roach88/fwrpc/pkg/client"`,
		"APIHash      uint32 = 0xd74b9f15",
		"EndpointMove     uint16 = 3 // move:endpoint(x:int32,y:int32,result:&app::Foo)->void",
		"func (d *DeviceClient) Ping(ctx context.Context) error {",
		"func (d *DeviceClient) GetFoo(ctx context.Context) (*GetFooResponse, error) {",
		"func (d *DeviceClient) SetLevel(ctx context.Context, req *Uint8Wire) error {",
		"func (d *DeviceClient) Move(ctx context.Context, req *MoveRequest) (*MoveResponse, error) {",
		"func (d *DeviceClient) OnButtonPressed(fn func(ev *Uint8Wire, err error)) {",
		"func (d *DeviceClient) SendHeartbeat(ctx context.Context) error {",
	} {
		assert.Contains(t, src, want)
	}
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerateWritesEveryArtifact(t *testing.T) {
	out, err := Generate(deviceRegistry(t), Options{GoImport: "example.com/device/devicepb"})
	require.NoError(t, err)

	paths := make([]string, len(out.Files))
	for i, f := range out.Files {
		paths[i] = f.Path
	}
	assert.Equal(t, []string{"device.proto", "params.proto", filepath.Join("devicepb", "client.go"), "api.json"}, paths)

	manifest, ok := out.File(ManifestFile)
	require.True(t, ok)
	assert.Equal(t, ManifestHash(manifest), out.ManifestHash)

	dir := t.TempDir()
	require.NoError(t, out.Write(dir))
	for _, f := range out.Files {
		data, err := os.ReadFile(filepath.Join(dir, f.Path))
		require.NoError(t, err)
		assert.Equal(t, f.Content, data, f.Path)
	}

	_, ok = out.File("missing.proto")
	assert.False(t, ok)
}
