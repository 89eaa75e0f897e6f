package dto

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/roach88/fwrpc/internal/params"
	"github.com/roach88/fwrpc/internal/symbols"
)

// Variant is the serialization strategy chosen for a class.
type Variant int

const (
	VariantNone Variant = iota
	SerializableClass
	ClassDto
	GeneratedDto
	ParamWrapper
	AnonymousClassDto
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case SerializableClass:
		return "SerializableClass"
	case ClassDto:
		return "ClassDto"
	case GeneratedDto:
		return "GeneratedDto"
	case ParamWrapper:
		return "ParamWrapper"
	case AnonymousClassDto:
		return "AnonymousClassDto"
	default:
		return "None"
	}
}

// WrapperNamespace is the database namespace wrapper classes are inserted in.
const WrapperNamespace = "fwrpc::params"

// Field is one message field.
type Field struct {
	Name      string          `json:"name"`
	Number    int             `json:"number"`
	Type      string          `json:"type"` // wire primitive or message reference
	Message   bool            `json:"message"`
	MaxSize   int             `json:"max_size"`
	Unbounded bool            `json:"unbounded"`
	CppType   symbols.CppType `json:"-"`
}

// Message is the wire schema of one registered class.
type Message struct {
	Name           string     `json:"name"`
	Domain         string     `json:"domain"`
	Class          symbols.ID `json:"class"`  // class whose fields are on the wire
	Source         symbols.ID `json:"source"` // class the message describes
	Variant        Variant    `json:"variant"`
	Fields         []Field    `json:"fields"`
	MaxSize        int        `json:"max_size"`
	VariableLength bool       `json:"variable_length"`
	External       bool       `json:"external"`
}

// QualifiedName is the proto full name of the message.
func (m *Message) QualifiedName() string {
	if m.Domain == "" {
		return m.Name
	}
	return m.Domain + "." + m.Name
}

// Registry holds every message of one generation run.
type Registry struct {
	db        *symbols.Database
	catalogue *params.Catalogue
	logger    *slog.Logger

	byKey    map[symbols.ID]*Message // registration key (source class)
	byClass  map[symbols.ID]*Message // wire class
	byName   map[string]*Message     // qualified name
	messages []*Message
	domains  []string
	building map[symbols.ID]bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithCatalogue replaces the embedded wrapper catalogue.
func WithCatalogue(c *params.Catalogue) Option {
	return func(r *Registry) {
		r.catalogue = c
	}
}

// NewRegistry creates an empty registry over db. Generated DTO and wrapper
// classes are inserted into db.
func NewRegistry(db *symbols.Database, opts ...Option) (*Registry, error) {
	r := &Registry{
		db:       db,
		logger:   slog.Default(),
		byKey:    make(map[symbols.ID]*Message),
		byClass:  make(map[symbols.ID]*Message),
		byName:   make(map[string]*Message),
		building: make(map[symbols.ID]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalogue == nil {
		cat, err := params.DefaultCatalogue()
		if err != nil {
			return nil, fmt.Errorf("loading wrapper catalogue: %w", err)
		}
		r.catalogue = cat
	}
	return r, nil
}

// Database returns the database the registry writes generated classes to.
func (r *Registry) Database() *symbols.Database {
	return r.db
}

// MakeTypeSerializable registers t for the wire in domain and returns the
// class that carries it. Plain classes serialize themselves (struct-valued
// fields first); classes with private or static data get a <Name>Dto mirror;
// Params resolve to their catalogue wrapper. Repeated calls return the same
// class.
func (r *Registry) MakeTypeSerializable(domain string, t symbols.CppType) (symbols.ClassRef, error) {
	switch v := t.(type) {
	case symbols.Param:
		return r.wrapper(v.Kind)
	case symbols.ClassRef:
		if m, ok := r.byClass[v.ID]; ok {
			return symbols.ClassRef{ID: m.Class}, nil
		}
		if m, ok := r.byKey[v.ID]; ok {
			return symbols.ClassRef{ID: m.Class}, nil
		}
		cls, ok := r.db.Class(v.ID)
		if !ok {
			return symbols.ClassRef{}, newError(ErrUnresolvedType, v.ID.String(), "class not in database")
		}
		variant := SerializableClass
		switch {
		case cls.Anonymous:
			variant = AnonymousClassDto
		case r.hidesState(cls):
			return r.CreateDtoForClass(domain, messageName(r.db, cls)+"Dto", v)
		}
		m, err := r.register(domain, cls, cls, variant)
		if err != nil {
			return symbols.ClassRef{}, err
		}
		return symbols.ClassRef{ID: m.Class}, nil
	default:
		return symbols.ClassRef{}, newError(ErrUnresolvedType, r.db.TypeString(t), "type cannot be serialized")
	}
}

// CreateDtoForClass creates a generated class called name in domain that
// mirrors the public fields of class t, for classes that cannot serialize
// themselves.
func (r *Registry) CreateDtoForClass(domain, name string, t symbols.CppType) (symbols.ClassRef, error) {
	ref, ok := t.(symbols.ClassRef)
	if !ok {
		return symbols.ClassRef{}, newError(ErrUnresolvedType, r.db.TypeString(t), "DTOs mirror classes only")
	}
	src, ok := r.db.Class(ref.ID)
	if !ok {
		return symbols.ClassRef{}, newError(ErrUnresolvedType, ref.ID.String(), "class not in database")
	}
	if m, ok := r.byKey[src.ID]; ok {
		if m.Variant != ClassDto {
			return symbols.ClassRef{}, r.conflict(src, m.Variant, ClassDto)
		}
		return symbols.ClassRef{ID: m.Class}, nil
	}

	var fields []symbols.GeneratedField
	for _, p := range r.db.Properties(src) {
		if !p.Public || p.Static {
			continue
		}
		fields = append(fields, symbols.GeneratedField{Name: p.Name, Type: p.Type})
	}
	dtoCls, err := r.db.InsertGeneratedClass(domainNamespace(domain), name, fields)
	if err != nil {
		if errors.Is(err, symbols.ErrGeneratedConflict) {
			return symbols.ClassRef{}, newError(ErrNameCollision, src.FullName, "DTO name %s already taken in %s", name, domain)
		}
		return symbols.ClassRef{}, err
	}
	m, err := r.register(domain, src, dtoCls, ClassDto)
	if err != nil {
		return symbols.ClassRef{}, err
	}
	return symbols.ClassRef{ID: m.Class}, nil
}

// CreateDtoFromFieldList synthesizes a class called name in domain from
// fields, inserts it into the database and registers it.
func (r *Registry) CreateDtoFromFieldList(domain, name string, fields []symbols.GeneratedField) (symbols.ClassRef, error) {
	cls, err := r.db.InsertGeneratedClass(domainNamespace(domain), name, fields)
	if err != nil {
		if errors.Is(err, symbols.ErrGeneratedConflict) {
			return symbols.ClassRef{}, newError(ErrNameCollision, name, "a different class named %s already exists in %s", name, domain)
		}
		return symbols.ClassRef{}, newError(ErrUnresolvedType, name, "%v", err)
	}
	m, err := r.register(domain, cls, cls, GeneratedDto)
	if err != nil {
		return symbols.ClassRef{}, err
	}
	return symbols.ClassRef{ID: m.Class}, nil
}

// Messages returns every message, dependencies before dependents.
func (r *Registry) Messages() []*Message {
	return append([]*Message(nil), r.messages...)
}

// Message returns the message with the given qualified name.
func (r *Registry) Message(qualifiedName string) (*Message, bool) {
	m, ok := r.byName[qualifiedName]
	return m, ok
}

// Lookup returns the message for a class, whether the class is the one on
// the wire or the source a DTO mirrors.
func (r *Registry) Lookup(id symbols.ID) (*Message, bool) {
	if m, ok := r.byClass[id]; ok {
		return m, true
	}
	m, ok := r.byKey[id]
	return m, ok
}

// Domains returns the non-external domains in first-use order.
func (r *Registry) Domains() []string {
	return append([]string(nil), r.domains...)
}

// DomainMessages returns the messages emitted into domain.
func (r *Registry) DomainMessages(domain string) []*Message {
	var out []*Message
	for _, m := range r.messages {
		if m.Domain == domain && !m.External {
			out = append(out, m)
		}
	}
	return out
}

// UsesWrappers reports whether any message in domain references a wrapper.
func (r *Registry) UsesWrappers(domain string) bool {
	prefix := r.catalogue.Package + "."
	for _, m := range r.DomainMessages(domain) {
		for _, f := range m.Fields {
			if f.Message && strings.HasPrefix(f.Type, prefix) {
				return true
			}
		}
	}
	return false
}

// Catalogue returns the wrapper catalogue in use.
func (r *Registry) Catalogue() *params.Catalogue {
	return r.catalogue
}

func (r *Registry) wrapper(kind params.Kind) (symbols.ClassRef, error) {
	w, ok := r.catalogue.ForKind(kind)
	if !ok {
		return symbols.ClassRef{}, newError(ErrMissingWrapper, kind.String(),
			"no wrapper message %s in the catalogue", kind.WrapperName())
	}
	cls, err := r.db.InsertGeneratedClass(WrapperNamespace, w.Name, []symbols.GeneratedField{
		{Name: w.Field, Type: symbols.Param{Kind: kind}},
	})
	if err != nil {
		return symbols.ClassRef{}, newError(ErrNameCollision, w.Name, "%v", err)
	}
	if m, ok := r.byKey[cls.ID]; ok {
		return symbols.ClassRef{ID: m.Class}, nil
	}

	size := protowire.SizeTag(protowire.Number(w.Number))
	m := &Message{
		Name:     w.Name,
		Domain:   r.catalogue.Package,
		Class:    cls.ID,
		Source:   cls.ID,
		Variant:  ParamWrapper,
		External: true,
		Fields: []Field{{
			Name:      w.Field,
			Number:    w.Number,
			Type:      w.Primitive,
			MaxSize:   fieldSize(size, kind.MaxSize()),
			Unbounded: kind.IsUnbounded(),
			CppType:   symbols.Param{Kind: kind},
		}},
	}
	m.MaxSize, m.VariableLength = sumFields(m.Fields)
	r.add(cls.ID, m)
	return symbols.ClassRef{ID: cls.ID}, nil
}

// register builds the message for wire (mirroring its fields) keyed by
// key.ID under variant.
func (r *Registry) register(domain string, key, wire *symbols.Class, variant Variant) (*Message, error) {
	if m, ok := r.byKey[key.ID]; ok {
		if m.Variant != variant {
			return nil, r.conflict(key, m.Variant, variant)
		}
		return m, nil
	}
	if r.building[wire.ID] {
		return nil, newError(ErrRecursiveType, wire.FullName, "class contains itself")
	}
	r.building[wire.ID] = true
	defer delete(r.building, wire.ID)

	name := messageName(r.db, wire)
	if variant == ClassDto || variant == GeneratedDto {
		name = wire.Name
	}
	qualified := qualify(domain, name)
	if prev, ok := r.byName[qualified]; ok && prev.Class != wire.ID {
		return nil, newError(ErrNameCollision, wire.FullName, "message %s already describes %s", qualified, r.db.TypeString(symbols.ClassRef{ID: prev.Source}))
	}

	m := &Message{
		Name:    name,
		Domain:  domain,
		Class:   wire.ID,
		Source:  key.ID,
		Variant: variant,
	}
	number := 0
	for _, p := range r.db.Properties(wire) {
		if !p.Public || p.Static {
			continue
		}
		number++
		f, err := r.field(domain, p, number)
		if err != nil {
			return nil, err
		}
		m.Fields = append(m.Fields, f)
	}
	m.MaxSize, m.VariableLength = sumFields(m.Fields)

	// Nested registration may have claimed the name in the meantime.
	if prev, ok := r.byName[qualified]; ok && prev.Class != wire.ID {
		return nil, newError(ErrNameCollision, wire.FullName, "message %s already taken", qualified)
	}
	r.add(key.ID, m)
	r.logger.Debug("message registered",
		"message", m.QualifiedName(),
		"variant", variant.String(),
		"fields", len(m.Fields),
		"max_size", m.MaxSize,
		"variable_length", m.VariableLength)
	return m, nil
}

func (r *Registry) field(domain string, p *symbols.Property, number int) (Field, error) {
	tag := protowire.SizeTag(protowire.Number(number))
	f := Field{Name: p.Name, Number: number, CppType: p.Type}
	switch t := p.Type.(type) {
	case symbols.Param:
		f.Type = t.Kind.Primitive()
		f.Unbounded = t.Kind.IsUnbounded()
		f.MaxSize = fieldSize(tag, t.Kind.MaxSize())
		return f, nil
	case symbols.ClassRef:
		ref, err := r.MakeTypeSerializable(domain, t)
		if err != nil {
			return Field{}, err
		}
		nested := r.byClass[ref.ID]
		f.Message = true
		f.Type = reference(domain, nested)
		f.Unbounded = nested.VariableLength
		if !f.Unbounded {
			f.MaxSize = tag + protowire.SizeBytes(nested.MaxSize)
		}
		return f, nil
	default:
		return Field{}, newError(ErrUnresolvedType, joinName(r.db, p), "field type %s is not serializable", r.db.TypeString(p.Type))
	}
}

// hidesState reports whether cls has data members the wire cannot see.
func (r *Registry) hidesState(cls *symbols.Class) bool {
	if cls.Generated {
		return false
	}
	for _, p := range r.db.Properties(cls) {
		if !p.Public || p.Static {
			return true
		}
	}
	return false
}

func (r *Registry) add(key symbols.ID, m *Message) {
	r.byKey[key] = m
	r.byClass[m.Class] = m
	r.byName[m.QualifiedName()] = m
	r.messages = append(r.messages, m)
	if m.External {
		return
	}
	for _, d := range r.domains {
		if d == m.Domain {
			return
		}
	}
	r.domains = append(r.domains, m.Domain)
}

func (r *Registry) conflict(cls *symbols.Class, have, want Variant) error {
	return newError(ErrVariantConflict, cls.FullName, "already registered as %s, cannot register as %s", have, want)
}

// fieldSize is the bound of one scalar field, or 0 when unbounded.
func fieldSize(tag, limit int) int {
	if limit == params.Unbounded {
		return 0
	}
	return tag + limit
}

func sumFields(fields []Field) (int, bool) {
	total := 0
	for _, f := range fields {
		if f.Unbounded {
			return 0, true
		}
		total += f.MaxSize
	}
	return total, false
}

// messageName derives a message name from a class: nested classes join
// their enclosing class names with "_", anonymous ones become AnonymousN.
func messageName(db *symbols.Database, cls *symbols.Class) string {
	var parts []string
	for c := cls; c != nil; {
		parts = append([]string{segmentName(c)}, parts...)
		if c.Parent.Kind != symbols.KindClass {
			break
		}
		next, ok := db.Class(c.Parent.ID)
		if !ok {
			break
		}
		c = next
	}
	return strings.Join(parts, "_")
}

func segmentName(c *symbols.Class) string {
	if c.Anonymous {
		return "Anonymous" + strings.TrimPrefix(c.Name, "__anonymous_")
	}
	return c.Name
}

// domainNamespace maps a proto package to the database namespace its
// generated classes live in.
func domainNamespace(domain string) string {
	return "fwrpc::dto::" + strings.ReplaceAll(domain, ".", "::")
}

func qualify(domain, name string) string {
	if domain == "" {
		return name
	}
	return domain + "." + name
}

// reference is how a message in domain names nested.
func reference(domain string, nested *Message) string {
	if nested.Domain == domain {
		return nested.Name
	}
	return nested.QualifiedName()
}

func joinName(db *symbols.Database, p *symbols.Property) string {
	if cls, ok := db.Class(p.Class); ok {
		return cls.FullName + "::" + p.Name
	}
	return p.Name
}
