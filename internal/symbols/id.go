package symbols

import (
	"fmt"
	"hash/crc32"
)

// ID is a content-addressed entity identifier: CRC32 (IEEE) of the
// entity's canonical string.
type ID uint32

// String renders the ID as fixed-width hex.
func (id ID) String() string {
	return fmt.Sprintf("%08x", uint32(id))
}

// Kind identifies what an ID refers to.
type Kind int

const (
	KindNone Kind = iota
	KindComponent
	KindFile
	KindNamespace
	KindClass
	KindFunction
	KindArgument
	KindProperty
)

// String returns the kind name used in canonical strings.
func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindFile:
		return "file"
	case KindNamespace:
		return "namespace"
	case KindClass:
		return "class"
	case KindFunction:
		return "function"
	case KindArgument:
		return "argument"
	case KindProperty:
		return "property"
	default:
		return "none"
	}
}

// Ref is a typed back-reference to another entity.
// The zero Ref means "no parent".
type Ref struct {
	Kind Kind `json:"kind"`
	ID   ID   `json:"id"`
}

// IsZero reports whether r refers to nothing.
func (r Ref) IsZero() bool {
	return r.Kind == KindNone
}

// hashString computes the CRC32 ID of a canonical string.
func hashString(s string) ID {
	return ID(crc32.ChecksumIEEE([]byte(s)))
}

// ComponentID computes the ID of a component from its name.
func ComponentID(name string) ID {
	return hashString(name)
}

// FileID computes the ID of a file as "component/path".
func FileID(component, path string) ID {
	return hashString(component + "/" + path)
}

// EntityID computes the ID of a reflectable entity from its kind and fully
// scoped name, e.g. EntityID(KindClass, "app::Foo") hashes "class app::Foo".
// The kind prefix keeps a namespace and a class with the same path apart.
func EntityID(kind Kind, fullName string) ID {
	return hashString(kind.String() + " " + fullName)
}

// RootNamespaceID is the ID of the unnamed global namespace.
var RootNamespaceID = EntityID(KindNamespace, "")

// joinScope appends name to a scoped prefix with "::".
func joinScope(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "::" + name
}
