package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributesBare(t *testing.T) {
	attrs, err := ParseAttributes("[[rpc::endpoint]]")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, []string{"rpc", "endpoint"}, attrs[0].Path)
	assert.Equal(t, "rpc::endpoint", attrs[0].Name())
	assert.True(t, attrs[0].InNamespace("rpc"))
	assert.Empty(t, attrs[0].Args)
	assert.Empty(t, attrs[0].Kwargs)
}

func TestParseAttributesTypedArguments(t *testing.T) {
	attrs, err := ParseAttributes(`[[rpc::responder("button_pressed", priority=2, gain=-1.5, enabled=true)]]`)
	require.NoError(t, err)
	require.Len(t, attrs, 1)

	a := attrs[0]
	require.Len(t, a.Args, 1)
	assert.Equal(t, ValueString, a.Args[0].Kind)
	assert.Equal(t, "button_pressed", a.Args[0].Str)

	prio, ok := a.Keyword("priority")
	require.True(t, ok)
	assert.Equal(t, ValueInt, prio.Kind)
	assert.Equal(t, int64(2), prio.Int)

	gain, ok := a.Keyword("gain")
	require.True(t, ok)
	assert.Equal(t, ValueFloat, gain.Kind)
	assert.InDelta(t, -1.5, gain.Float, 1e-9)

	enabled, ok := a.Keyword("enabled")
	require.True(t, ok)
	assert.Equal(t, ValueBool, enabled.Kind)
	assert.True(t, enabled.Bool)

	_, ok = a.Keyword("missing")
	assert.False(t, ok)
}

func TestParseAttributesList(t *testing.T) {
	attrs, err := ParseAttributes("[[nodiscard, rpc::event(name=\"tick\")]]")
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, "nodiscard", attrs[0].Name())
	assert.False(t, attrs[0].InNamespace("rpc"))
	assert.Equal(t, "rpc::event", attrs[1].Name())

	name, ok := attrs[1].Keyword("name")
	require.True(t, ok)
	assert.Equal(t, "tick", name.Str)
}

func TestAttributeStringIsCanonical(t *testing.T) {
	a, err := ParseAttributes(`[[ rpc::responder( "x" ,  level = 3 ) ]]`)
	require.NoError(t, err)
	b, err := ParseAttributes(`[[rpc::responder("x", level=3)]]`)
	require.NoError(t, err)
	assert.Equal(t, a[0].String(), b[0].String())
	assert.Equal(t, `rpc::responder("x", level=3)`, a[0].String())
}

func TestParseAttributesErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"duplicate keyword", `[[rpc::event(name="a", name="b")]]`},
		{"positional after keyword", `[[rpc::event(name="a", "b")]]`},
		{"unterminated list", `[[rpc::event(`},
		{"missing name", `[[ ( ) ]]`},
		{"missing value", `[[rpc::event(name=)]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAttributes(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestFindAttribute(t *testing.T) {
	attrs, err := ParseAttributes("[[deprecated, rpc::sink]]")
	require.NoError(t, err)

	a, ok := FindAttribute(attrs, "rpc::sink")
	require.True(t, ok)
	assert.Equal(t, "rpc::sink", a.Name())

	_, ok = FindAttribute(attrs, "rpc::endpoint")
	assert.False(t, ok)
}
