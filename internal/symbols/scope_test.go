package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeTransitions(t *testing.T) {
	tests := []struct {
		parent, child ScopeKind
		want          bool
	}{
		{ScopeRoot, ScopeNamespace, true},
		{ScopeRoot, ScopeClass, true},
		{ScopeRoot, ScopeFunction, true},
		{ScopeRoot, ScopeArgument, false},
		{ScopeRoot, ScopeField, false},
		{ScopeNamespace, ScopeNamespace, true},
		{ScopeNamespace, ScopeField, false},
		{ScopeClass, ScopeClass, true},
		{ScopeClass, ScopeFunction, true},
		{ScopeClass, ScopeField, true},
		{ScopeClass, ScopeStaticField, true},
		{ScopeClass, ScopeNamespace, false},
		{ScopeClass, ScopeArgument, false},
		{ScopeFunction, ScopeArgument, true},
		{ScopeFunction, ScopeClass, false},
		{ScopeField, ScopeField, true},
		{ScopeField, ScopeFunction, false},
		{ScopeArgument, ScopeArgument, false},
		{ScopeStaticField, ScopeField, false},
	}

	for _, tt := range tests {
		t.Run(tt.parent.String()+"->"+tt.child.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, CanEnter(tt.parent, tt.child))
		})
	}
}

func TestScopeStackPushBuildsFullNames(t *testing.T) {
	var s scopeStack

	ns, err := s.push(ScopeNamespace, "app", KindNamespace)
	require.NoError(t, err)
	assert.Equal(t, "app", ns.fullName)

	cls, err := s.push(ScopeClass, "Foo", KindClass)
	require.NoError(t, err)
	assert.Equal(t, "app::Foo", cls.fullName)
	assert.Equal(t, EntityID(KindClass, "app::Foo"), cls.ref.ID)

	assert.Equal(t, ScopePath{
		{Kind: ScopeNamespace, Name: "app"},
		{Kind: ScopeClass, Name: "Foo"},
	}, s.path())
	assert.Equal(t, "app::Foo", s.path().String())

	s.pop()
	s.pop()
	assert.Equal(t, ScopeRoot, s.top().kind)
	assert.Equal(t, RootNamespaceID, s.top().ref.ID)
}

func TestScopeStackRejectsInvalidTransition(t *testing.T) {
	var s scopeStack

	_, err := s.push(ScopeArgument, "x", KindArgument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root -> argument")

	_, err = s.push(ScopeFunction, "f", KindFunction)
	require.NoError(t, err)
	_, err = s.push(ScopeClass, "Inner", KindClass)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "function -> class")
}

func TestEntityIDsSeparateKinds(t *testing.T) {
	assert.NotEqual(t, EntityID(KindNamespace, "app::Foo"), EntityID(KindClass, "app::Foo"))
	assert.Equal(t, EntityID(KindClass, "app::Foo"), EntityID(KindClass, "app::Foo"))
	assert.NotEqual(t, FileID("a", "x.h"), FileID("b", "x.h"))
	assert.Len(t, EntityID(KindClass, "app::Foo").String(), 8)
}
