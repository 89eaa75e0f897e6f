package symbols

import "fmt"

// ScopeKind is the kind of one frame on the parser's scope stack.
type ScopeKind int

const (
	ScopeRoot ScopeKind = iota
	ScopeNamespace
	ScopeClass
	ScopeFunction
	ScopeArgument
	ScopeField
	ScopeStaticField
)

// String returns the scope kind name.
func (k ScopeKind) String() string {
	switch k {
	case ScopeRoot:
		return "root"
	case ScopeNamespace:
		return "namespace"
	case ScopeClass:
		return "class"
	case ScopeFunction:
		return "function"
	case ScopeArgument:
		return "argument"
	case ScopeField:
		return "field"
	case ScopeStaticField:
		return "static_field"
	default:
		return fmt.Sprintf("scope(%d)", int(k))
	}
}

// transitions is the parent -> allowed children table for the scope stack.
var transitions = map[ScopeKind]map[ScopeKind]bool{
	ScopeRoot:      {ScopeNamespace: true, ScopeClass: true, ScopeFunction: true},
	ScopeNamespace: {ScopeNamespace: true, ScopeClass: true, ScopeFunction: true},
	ScopeClass:     {ScopeClass: true, ScopeFunction: true, ScopeField: true, ScopeStaticField: true},
	ScopeFunction:  {ScopeArgument: true},
	ScopeField:     {ScopeField: true},
}

// CanEnter reports whether a child scope may be opened inside parent.
func CanEnter(parent, child ScopeKind) bool {
	return transitions[parent][child]
}

// Segment is one typed element of a ScopePath.
type Segment struct {
	Kind ScopeKind
	Name string
}

// ScopePath is the ordered list of segments locating a symbol.
type ScopePath []Segment

// String renders the path with "::" separators, skipping unnamed segments.
func (p ScopePath) String() string {
	var s string
	for _, seg := range p {
		if seg.Name == "" {
			continue
		}
		s = joinScope(s, seg.Name)
	}
	return s
}

// frame is one open scope.
type frame struct {
	kind     ScopeKind
	name     string
	fullName string
	ref      Ref
	public   bool // current access inside a class body
}

// scopeStack tracks the open scopes while walking one parse unit.
type scopeStack struct {
	frames []frame
}

func (s *scopeStack) top() frame {
	if len(s.frames) == 0 {
		return frame{kind: ScopeRoot, ref: Ref{Kind: KindNamespace, ID: RootNamespaceID}}
	}
	return s.frames[len(s.frames)-1]
}

func (s *scopeStack) topPtr() *frame {
	if len(s.frames) == 0 {
		return nil
	}
	return &s.frames[len(s.frames)-1]
}

// push opens a scope named name of the given kind, validating the
// transition. It returns the new frame's full name.
func (s *scopeStack) push(kind ScopeKind, name string, entity Kind) (frame, error) {
	parent := s.top()
	if !CanEnter(parent.kind, kind) {
		return frame{}, fmt.Errorf("invalid scope transition %s -> %s (%q)", parent.kind, kind, name)
	}
	full := joinScope(parent.fullName, name)
	f := frame{
		kind:     kind,
		name:     name,
		fullName: full,
		ref:      Ref{Kind: entity, ID: EntityID(entity, full)},
	}
	s.frames = append(s.frames, f)
	return f, nil
}

func (s *scopeStack) pop() {
	s.frames = s.frames[:len(s.frames)-1]
}

// path returns the current ScopePath.
func (s *scopeStack) path() ScopePath {
	p := make(ScopePath, len(s.frames))
	for i, f := range s.frames {
		p[i] = Segment{Kind: f.kind, Name: f.name}
	}
	return p
}
