package params

import (
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// CatalogueVersion identifies the scalar catalogue revision. Bump it when a
// Kind is added; existing kinds never change meaning.
const CatalogueVersion = "1"

// Kind is one scalar parameter category.
type Kind int

const (
	Invalid Kind = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float
	UFloat
	Double
	Bool
	Trigger
	String
)

// Unbounded marks a primitive with no static size limit.
const Unbounded = -1

// entry describes one catalogue row.
type entry struct {
	name      string
	primitive string
	maxSize   int
	cppNames  []string
}

var catalogue = map[Kind]entry{
	Int8:    {"int8", "sint32", protowire.SizeVarint(protowire.EncodeZigZag(math.MinInt8)), []string{"int8_t", "int8", "signed char"}},
	Int16:   {"int16", "sint32", protowire.SizeVarint(protowire.EncodeZigZag(math.MinInt16)), []string{"int16_t", "int16", "short"}},
	Int32:   {"int32", "sint32", protowire.SizeVarint(protowire.EncodeZigZag(math.MinInt32)), []string{"int32_t", "int32", "int"}},
	Int64:   {"int64", "sint64", protowire.SizeVarint(protowire.EncodeZigZag(math.MinInt64)), []string{"int64_t", "int64", "long long"}},
	Uint8:   {"uint8", "uint32", protowire.SizeVarint(math.MaxUint8), []string{"uint8_t", "uint8", "unsigned char", "char"}},
	Uint16:  {"uint16", "uint32", protowire.SizeVarint(math.MaxUint16), []string{"uint16_t", "uint16", "unsigned short"}},
	Uint32:  {"uint32", "uint32", protowire.SizeVarint(math.MaxUint32), []string{"uint32_t", "uint32", "unsigned", "unsigned int", "size_t"}},
	Uint64:  {"uint64", "uint64", protowire.SizeVarint(math.MaxUint64), []string{"uint64_t", "uint64", "unsigned long long"}},
	Float:   {"float", "float", protowire.SizeFixed32(), []string{"float", "float32"}},
	UFloat:  {"ufloat", "float", protowire.SizeFixed32(), []string{"ufloat", "ufloat_t"}},
	Double:  {"double", "double", protowire.SizeFixed64(), []string{"double", "float64"}},
	Bool:    {"bool", "bool", protowire.SizeVarint(1), []string{"bool"}},
	Trigger: {"trigger", "bool", protowire.SizeVarint(1), []string{"trigger", "trigger_t", "Trigger"}},
	String:  {"string", "string", Unbounded, []string{"std::string", "string", "String"}},
}

var byCppName = func() map[string]Kind {
	m := make(map[string]Kind)
	for k, e := range catalogue {
		for _, n := range e.cppNames {
			m[n] = k
		}
	}
	return m
}()

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(catalogue))
	for k := Int8; k <= String; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Lookup maps a C++ type spelling to its kind. Whitespace runs are
// collapsed and a leading "::" is ignored.
func Lookup(cppName string) (Kind, bool) {
	name := strings.Join(strings.Fields(cppName), " ")
	name = strings.TrimPrefix(name, "::")
	k, ok := byCppName[name]
	return k, ok
}

// Valid reports whether k is a catalogue kind.
func (k Kind) Valid() bool {
	_, ok := catalogue[k]
	return ok
}

// String returns the catalogue name ("int32", "string", ...).
func (k Kind) String() string {
	if e, ok := catalogue[k]; ok {
		return e.name
	}
	return "invalid"
}

// Primitive returns the wire primitive the kind is encoded as.
func (k Kind) Primitive() string {
	return catalogue[k].primitive
}

// MaxSize returns the maximum encoded payload size of one value, or
// Unbounded.
func (k Kind) MaxSize() int {
	if e, ok := catalogue[k]; ok {
		return e.maxSize
	}
	return Unbounded
}

// IsUnbounded reports whether values of this kind have no size limit.
func (k Kind) IsUnbounded() bool {
	return k.MaxSize() == Unbounded
}

// IsInteger reports whether k is one of the integer kinds.
func (k Kind) IsInteger() bool {
	return k >= Int8 && k <= Uint64
}

// IsUnsignedInteger reports whether k is an unsigned integer kind.
func (k Kind) IsUnsignedInteger() bool {
	return k >= Uint8 && k <= Uint64
}

// WrapperName returns the name of the pre-declared wrapper message for k,
// following the "<Kind>Wire" convention (Int32Wire, UFloatWire, ...).
func (k Kind) WrapperName() string {
	if k == UFloat {
		return "UFloatWire"
	}
	name := k.String()
	return strings.ToUpper(name[:1]) + name[1:] + "Wire"
}
