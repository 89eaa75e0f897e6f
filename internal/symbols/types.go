package symbols

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/fwrpc/internal/params"
)

// CppType is a type reference. It is a closed sum: ClassRef, Param or
// Unresolved. A nil CppType means void.
type CppType interface {
	cppType()
}

// ClassRef refers to a class in the database.
type ClassRef struct {
	ID ID
}

// Param is one of the fixed scalar kinds.
type Param struct {
	Kind params.Kind
}

// Unresolved is a textual type name awaiting (or having failed) resolution.
type Unresolved struct {
	Text string
}

func (ClassRef) cppType()   {}
func (Param) cppType()      {}
func (Unresolved) cppType() {}

// ArgCategory classifies how an argument is passed.
type ArgCategory int

const (
	ArgInvalid ArgCategory = iota
	ArgConst               // const by value
	ArgValue               // by value, including single pointers
	ArgInput               // const reference
	ArgOutput              // non-const reference
)

// String returns the category name.
func (c ArgCategory) String() string {
	switch c {
	case ArgConst:
		return "CONST"
	case ArgValue:
		return "VALUE"
	case ArgInput:
		return "INPUT"
	case ArgOutput:
		return "OUTPUT"
	default:
		return "INVALID"
	}
}

// Component is a named group of source files.
type Component struct {
	ID    ID
	Name  string
	Files []ID
}

// File is one ingested source file.
type File struct {
	ID        ID
	Component ID
	Path      string
}

// Namespace is a named scope. The root namespace has an empty name and a
// zero Parent.
type Namespace struct {
	ID        ID
	Name      string
	FullName  string
	Parent    Ref
	File      ID
	Generated bool
}

// Class is a struct or class declaration with a body.
type Class struct {
	ID         ID
	Name       string
	FullName   string
	Parent     Ref // namespace or enclosing class
	Anonymous  bool
	Bases      []CppType
	Properties []ID
	Methods    []ID
	Attributes []Attribute
	Generated  bool
	File       ID
	Line       int
}

// Function is a free function or method declaration.
type Function struct {
	ID         ID
	Name       string
	FullName   string
	Parent     Ref
	Args       []ID
	Return     CppType // nil for void
	Attributes []Attribute
	Generated  bool
	File       ID
	Line       int
}

// Argument is one function parameter.
type Argument struct {
	ID       ID
	Name     string
	Function ID
	Index    int
	Category ArgCategory
	Pointer  bool
	Type     CppType
}

// Property is a data member of a class.
type Property struct {
	ID         ID
	Name       string
	Class      ID
	Type       CppType
	Public     bool
	Static     bool
	Attributes []Attribute
	Line       int
}

// ValueKind is the type of an attribute argument.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInt
	ValueFloat
	ValueBool
)

// Value is one typed attribute argument.
type Value struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
	Bool  bool
}

// String renders the value as it would be written in source.
func (v Value) String() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	default:
		return strconv.Quote(v.Str)
	}
}

// KeywordArg is a name=value attribute argument.
type KeywordArg struct {
	Name  string
	Value Value
}

// Attribute is one parsed annotation, e.g. [[rpc::responder(event="x")]].
type Attribute struct {
	Path   []string
	Args   []Value
	Kwargs []KeywordArg
}

// Name returns the scoped attribute name ("rpc::responder").
func (a Attribute) Name() string {
	return strings.Join(a.Path, "::")
}

// InNamespace reports whether the attribute path starts with ns.
func (a Attribute) InNamespace(ns string) bool {
	return len(a.Path) > 1 && a.Path[0] == ns
}

// Keyword returns the keyword argument called name.
func (a Attribute) Keyword(name string) (Value, bool) {
	for _, kw := range a.Kwargs {
		if kw.Name == name {
			return kw.Value, true
		}
	}
	return Value{}, false
}

// String renders the attribute canonically; equal attributes render equal.
func (a Attribute) String() string {
	var b strings.Builder
	b.WriteString(a.Name())
	if len(a.Args) == 0 && len(a.Kwargs) == 0 {
		return b.String()
	}
	b.WriteByte('(')
	first := true
	for _, v := range a.Args {
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(v.String())
	}
	for _, kw := range a.Kwargs {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%s", kw.Name, kw.Value.String())
	}
	b.WriteByte(')')
	return b.String()
}

// FindAttribute returns the first attribute with the given scoped name.
func FindAttribute(attrs []Attribute, name string) (Attribute, bool) {
	for _, a := range attrs {
		if a.Name() == name {
			return a, true
		}
	}
	return Attribute{}, false
}

func attributesString(attrs []Attribute) string {
	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}
