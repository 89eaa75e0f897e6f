package symbols

import (
	"errors"
	"fmt"
	"strings"
)

// ErrGeneratedConflict is returned when a generated class would replace a
// different class at the same path.
var ErrGeneratedConflict = errors.New("generated class conflicts with existing declaration")

// Database is the finalized, queryable symbol store. Entities reference
// each other only by ID. The one mutation after Finalize is
// InsertGeneratedClass; a Database is not safe for concurrent use while
// classes are being inserted.
type Database struct {
	components map[ID]*Component
	files      map[ID]*File
	namespaces map[ID]*Namespace
	classes    map[ID]*Class
	functions  map[ID]*Function
	arguments  map[ID]*Argument
	properties map[ID]*Property

	componentOrder []ID
	fileOrder      []ID
	namespaceOrder []ID
	classOrder     []ID
	functionOrder  []ID

	classByName map[string]ID
	conflicts   []Conflict
	failures    []*ParseError
}

func newDatabase() *Database {
	return &Database{
		components:  make(map[ID]*Component),
		files:       make(map[ID]*File),
		namespaces:  make(map[ID]*Namespace),
		classes:     make(map[ID]*Class),
		functions:   make(map[ID]*Function),
		arguments:   make(map[ID]*Argument),
		properties:  make(map[ID]*Property),
		classByName: make(map[string]ID),
	}
}

func (db *Database) indexClassNames() {
	for _, id := range db.classOrder {
		c := db.classes[id]
		db.classByName[c.FullName] = id
	}
}

// Component returns the component with the given ID.
func (db *Database) Component(id ID) (*Component, bool) {
	c, ok := db.components[id]
	return c, ok
}

// Components returns components in ingestion order.
func (db *Database) Components() []*Component {
	out := make([]*Component, len(db.componentOrder))
	for i, id := range db.componentOrder {
		out[i] = db.components[id]
	}
	return out
}

// File returns the file with the given ID.
func (db *Database) File(id ID) (*File, bool) {
	f, ok := db.files[id]
	return f, ok
}

// Files returns files in ingestion order.
func (db *Database) Files() []*File {
	out := make([]*File, len(db.fileOrder))
	for i, id := range db.fileOrder {
		out[i] = db.files[id]
	}
	return out
}

func (db *Database) Namespace(id ID) (*Namespace, bool) {
	n, ok := db.namespaces[id]
	return n, ok
}

// Namespaces returns namespaces in discovery order.
func (db *Database) Namespaces() []*Namespace {
	out := make([]*Namespace, len(db.namespaceOrder))
	for i, id := range db.namespaceOrder {
		out[i] = db.namespaces[id]
	}
	return out
}

func (db *Database) Class(id ID) (*Class, bool) {
	c, ok := db.classes[id]
	return c, ok
}

// ClassByName looks a class up by its fully scoped name ("app::Foo").
func (db *Database) ClassByName(fullName string) (*Class, bool) {
	id, ok := db.classByName[strings.TrimPrefix(fullName, "::")]
	if !ok {
		return nil, false
	}
	return db.classes[id], true
}

// Classes returns classes in discovery order.
func (db *Database) Classes() []*Class {
	out := make([]*Class, len(db.classOrder))
	for i, id := range db.classOrder {
		out[i] = db.classes[id]
	}
	return out
}

func (db *Database) Function(id ID) (*Function, bool) {
	f, ok := db.functions[id]
	return f, ok
}

// Functions returns functions in discovery order.
func (db *Database) Functions() []*Function {
	out := make([]*Function, len(db.functionOrder))
	for i, id := range db.functionOrder {
		out[i] = db.functions[id]
	}
	return out
}

func (db *Database) Argument(id ID) (*Argument, bool) {
	a, ok := db.arguments[id]
	return a, ok
}

// Arguments returns fn's arguments in declared order.
func (db *Database) Arguments(fn *Function) []*Argument {
	out := make([]*Argument, 0, len(fn.Args))
	for _, id := range fn.Args {
		if a, ok := db.arguments[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (db *Database) Property(id ID) (*Property, bool) {
	p, ok := db.properties[id]
	return p, ok
}

// Properties returns cls's properties in declared order.
func (db *Database) Properties(cls *Class) []*Property {
	out := make([]*Property, 0, len(cls.Properties))
	for _, id := range cls.Properties {
		if p, ok := db.properties[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Conflicts returns inconsistent redeclarations seen during ingestion.
func (db *Database) Conflicts() []Conflict {
	return append([]Conflict(nil), db.conflicts...)
}

// Failures returns the files whose contribution was omitted.
func (db *Database) Failures() []*ParseError {
	return append([]*ParseError(nil), db.failures...)
}

// FullName returns the scoped name of the entity ref points to. The root
// namespace and unknown refs render as "".
func (db *Database) FullName(ref Ref) string {
	switch ref.Kind {
	case KindNamespace:
		if n, ok := db.namespaces[ref.ID]; ok {
			return n.FullName
		}
	case KindClass:
		if c, ok := db.classes[ref.ID]; ok {
			return c.FullName
		}
	case KindFunction:
		if f, ok := db.functions[ref.ID]; ok {
			return f.FullName
		}
	}
	return ""
}

// Parent returns the enclosing scope of ref.
func (db *Database) Parent(ref Ref) Ref {
	switch ref.Kind {
	case KindNamespace:
		if n, ok := db.namespaces[ref.ID]; ok {
			return n.Parent
		}
	case KindClass:
		if c, ok := db.classes[ref.ID]; ok {
			return c.Parent
		}
	case KindFunction:
		if f, ok := db.functions[ref.ID]; ok {
			return f.Parent
		}
	}
	return Ref{}
}

// TypeString renders a type for signatures and diagnostics.
func (db *Database) TypeString(t CppType) string {
	if ref, ok := t.(ClassRef); ok {
		if c, ok := db.classes[ref.ID]; ok {
			return c.FullName
		}
	}
	return TypeText(t)
}

// GeneratedField is one member of a class synthesized by InsertGeneratedClass.
type GeneratedField struct {
	Name string
	Type CppType
}

// InsertGeneratedClass adds a synthesized class named name inside the
// scoped namespace ns, creating generated namespaces as needed. Inserting
// an identical generated class again returns the existing one.
func (db *Database) InsertGeneratedClass(ns, name string, fields []GeneratedField) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("generated class needs a name")
	}
	parent := Ref{Kind: KindNamespace, ID: RootNamespaceID}
	prefix := ""
	for _, seg := range strings.Split(strings.Trim(ns, ":"), "::") {
		if seg == "" {
			continue
		}
		full := joinScope(prefix, seg)
		id := EntityID(KindNamespace, full)
		if _, ok := db.namespaces[id]; !ok {
			db.namespaces[id] = &Namespace{ID: id, Name: seg, FullName: full, Parent: parent, Generated: true}
			db.namespaceOrder = append(db.namespaceOrder, id)
		}
		parent = Ref{Kind: KindNamespace, ID: id}
		prefix = full
	}

	full := joinScope(prefix, name)
	id := EntityID(KindClass, full)
	if existing, ok := db.classes[id]; ok {
		if existing.Generated && db.sameFields(existing, fields) {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrGeneratedConflict, full)
	}

	cls := &Class{
		ID:        id,
		Name:      name,
		FullName:  full,
		Parent:    parent,
		Generated: true,
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f.Name] {
			return nil, fmt.Errorf("generated class %s: duplicate field %q", full, f.Name)
		}
		seen[f.Name] = true
		pid := EntityID(KindProperty, joinScope(full, f.Name))
		db.properties[pid] = &Property{ID: pid, Name: f.Name, Class: id, Type: f.Type, Public: true}
		cls.Properties = append(cls.Properties, pid)
	}
	db.classes[id] = cls
	db.classOrder = append(db.classOrder, id)
	db.classByName[full] = id
	return cls, nil
}

func (db *Database) sameFields(cls *Class, fields []GeneratedField) bool {
	props := db.Properties(cls)
	if len(props) != len(fields) {
		return false
	}
	for i, p := range props {
		if p.Name != fields[i].Name || db.TypeString(p.Type) != db.TypeString(fields[i].Type) {
			return false
		}
	}
	return true
}
