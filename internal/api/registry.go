package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/symbols"
)

// Category is the remote-call classification of a function.
type Category int

const (
	CategoryEndpoint Category = iota + 1
	CategoryEvent
	CategoryResponder
	CategorySink
)

// String returns the category name used in signatures.
func (c Category) String() string {
	switch c {
	case CategoryEndpoint:
		return "endpoint"
	case CategoryEvent:
		return "event"
	case CategoryResponder:
		return "responder"
	case CategorySink:
		return "sink"
	default:
		return "unknown"
	}
}

// Shape is the argument layout of an endpoint.
type Shape int

const (
	ShapeTrigger  Shape = iota // no inputs, no output
	ShapeSetter                // inputs only
	ShapeGetter                // output only
	ShapeFunction              // inputs and output
)

// String returns the shape name.
func (s Shape) String() string {
	switch s {
	case ShapeSetter:
		return "SETTER"
	case ShapeGetter:
		return "GETTER"
	case ShapeFunction:
		return "FUNCTION"
	default:
		return "TRIGGER"
	}
}

// Param is one input or output argument.
type Param struct {
	Name string          `json:"name"`
	Type symbols.CppType `json:"-"`
	Arg  symbols.ID      `json:"arg"`
}

// Endpoint is a callable remote procedure.
type Endpoint struct {
	ID           uint16       `json:"id"`
	Name         string       `json:"name"`
	Function     symbols.ID   `json:"function"`
	FullName     string       `json:"full_name"`
	Shape        Shape        `json:"shape"`
	Inputs       []Param      `json:"inputs"`
	Output       *Param       `json:"output,omitempty"`
	ReturnsError bool         `json:"returns_error"`
	Reserved     bool         `json:"reserved"`
	Request      *dto.Message `json:"-"`
	Response     *dto.Message `json:"-"`
	Signature    string       `json:"signature"`
}

// Event is a device-to-client broadcast. Index is the HANDLER_ID of its
// EVENT frames.
type Event struct {
	Index      uint16       `json:"index"`
	Name       string       `json:"name"`
	Function   symbols.ID   `json:"function"`
	FullName   string       `json:"full_name"`
	Inputs     []Param      `json:"inputs"`
	Request    *dto.Message `json:"-"`
	Responders []string     `json:"responders"`
	Signature  string       `json:"signature"`
}

// Responder is a device-side function bound to an Event.
type Responder struct {
	Name      string     `json:"name"`
	Function  symbols.ID `json:"function"`
	FullName  string     `json:"full_name"`
	Event     string     `json:"event"`
	Inputs    []Param    `json:"inputs"`
	Signature string     `json:"signature"`
}

// Sink receives raw byte buffers.
type Sink struct {
	Name      string     `json:"name"`
	Function  symbols.ID `json:"function"`
	FullName  string     `json:"full_name"`
	Buffer    string     `json:"buffer"`
	Length    string     `json:"length"`
	Signature string     `json:"signature"`
}

// Registry is the classified API of one generation run.
type Registry struct {
	Domain     string
	Endpoints  []*Endpoint // by ID
	Events     []*Event    // by index
	Responders []*Responder
	Sinks      []*Sink
	Compat     Compat
	Reserved   []string
	CoreCount  int

	dtos *dto.Registry
}

// DTOs returns the message registry the API was bound against.
func (r *Registry) DTOs() *dto.Registry {
	return r.dtos
}

// Endpoint returns the endpoint with the exported name.
func (r *Registry) Endpoint(name string) (*Endpoint, bool) {
	for _, e := range r.Endpoints {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// EndpointByID returns the endpoint with the given ID.
func (r *Registry) EndpointByID(id uint16) (*Endpoint, bool) {
	if int(id) < len(r.Endpoints) && r.Endpoints[id].ID == id {
		return r.Endpoints[id], true
	}
	return nil, false
}

// Event returns the event with the exported name.
func (r *Registry) Event(name string) (*Event, bool) {
	for _, e := range r.Events {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// EndpointLayout maps endpoint name to ID.
func (r *Registry) EndpointLayout() map[string]uint16 {
	out := make(map[string]uint16, len(r.Endpoints))
	for _, e := range r.Endpoints {
		out[e.Name] = e.ID
	}
	return out
}

// Option configures Build.
type Option func(*builder)

// WithReserved replaces the reserved endpoint list; the first core entries
// form the core hash.
func WithReserved(names []string, core int) Option {
	return func(b *builder) {
		b.reserved = append([]string(nil), names...)
		b.core = min(max(core, 0), len(names))
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

type builder struct {
	db       *symbols.Database
	dtos     *dto.Registry
	domain   string
	reserved []string
	core     int
	logger   *slog.Logger
	errs     ValidationErrors
}

// Build classifies every annotated function in the registry's database.
// On failure the returned error is a ValidationErrors holding every
// problem found.
func Build(dtos *dto.Registry, domain string, opts ...Option) (*Registry, error) {
	b := &builder{
		db:       dtos.Database(),
		dtos:     dtos,
		domain:   domain,
		reserved: append([]string(nil), ReservedEndpoints...),
		core:     CoreEndpointCount,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b.build()
}

func (b *builder) build() (*Registry, error) {
	reg := &Registry{
		Domain:    b.domain,
		Reserved:  b.reserved,
		CoreCount: b.core,
		dtos:      b.dtos,
	}

	var endpoints []*Endpoint
	names := make(map[string]string) // exported name -> function full name
	claim := func(fn *symbols.Function, name string) bool {
		if prev, ok := names[name]; ok {
			b.fail(fn, ErrDuplicateName, "name %q already used by %s", name, prev)
			return false
		}
		names[name] = fn.FullName
		return true
	}

	var pendingResponders []*Responder
	for _, fn := range b.db.Functions() {
		cat, attr, ok := b.classify(fn)
		if !ok {
			continue
		}
		name := exportedName(fn, attr)
		switch cat {
		case CategoryEndpoint:
			if ep := b.endpoint(fn, name); ep != nil && claim(fn, name) {
				endpoints = append(endpoints, ep)
			}
		case CategoryEvent:
			if ev := b.event(fn, name); ev != nil && claim(fn, name) {
				if len(reg.Events) > math.MaxUint16 {
					b.fail(fn, ErrIDOverflow, "too many events")
					continue
				}
				ev.Index = uint16(len(reg.Events))
				reg.Events = append(reg.Events, ev)
			}
		case CategoryResponder:
			if rs := b.responder(fn, name, attr); rs != nil && claim(fn, name) {
				pendingResponders = append(pendingResponders, rs)
			}
		case CategorySink:
			if s := b.sink(fn, name); s != nil && claim(fn, name) {
				reg.Sinks = append(reg.Sinks, s)
			}
		}
	}

	for _, rs := range pendingResponders {
		fn, _ := b.db.Function(rs.Function)
		ev, ok := reg.Event(rs.Event)
		if !ok {
			b.fail(fn, ErrUnknownEvent, "responds to unknown event %q", rs.Event)
			continue
		}
		if !b.sameInputs(ev.Inputs, rs.Inputs) {
			b.fail(fn, ErrResponderMismatch, "inputs (%s) do not match event %s (%s)",
				b.paramList(rs.Inputs), ev.Name, b.paramList(ev.Inputs))
			continue
		}
		ev.Responders = append(ev.Responders, rs.Name)
		reg.Responders = append(reg.Responders, rs)
	}

	reg.Endpoints = b.assignIDs(endpoints)

	for _, ep := range reg.Endpoints {
		b.bindEndpoint(ep)
	}
	for _, ev := range reg.Events {
		b.bindEvent(ev)
	}

	if len(b.errs) > 0 {
		return nil, b.errs
	}
	reg.Compat = computeCompat(reg)
	b.logger.Debug("api registry built",
		"domain", b.domain,
		"endpoints", len(reg.Endpoints),
		"events", len(reg.Events),
		"responders", len(reg.Responders),
		"sinks", len(reg.Sinks),
		"core_hash", fmt.Sprintf("%08x", reg.Compat.Core),
		"api_hash", fmt.Sprintf("%08x", reg.Compat.API))
	return reg, nil
}

// assignIDs puts reserved endpoints at 0..K-1 in list order and every
// other endpoint after them in discovery order.
func (b *builder) assignIDs(endpoints []*Endpoint) []*Endpoint {
	byName := make(map[string]*Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byName[ep.Name] = ep
	}

	out := make([]*Endpoint, 0, len(endpoints))
	reserved := make(map[string]bool, len(b.reserved))
	for _, name := range b.reserved {
		reserved[name] = true
		ep, ok := byName[name]
		if !ok {
			b.errs = append(b.errs, ValidationError{
				Function: name,
				Code:     ErrMissingReserved,
				Message:  "reserved endpoint is not declared",
			})
			continue
		}
		ep.Reserved = true
		out = append(out, ep)
	}
	for _, ep := range endpoints {
		if !reserved[ep.Name] {
			out = append(out, ep)
		}
	}

	for i, ep := range out {
		if i > math.MaxUint16 {
			fn, _ := b.db.Function(ep.Function)
			b.fail(fn, ErrIDOverflow, "endpoint ID %d does not fit in 16 bits", i)
			return out[:i]
		}
		ep.ID = uint16(i)
	}
	return out
}

func (b *builder) bindEndpoint(ep *Endpoint) {
	fn, _ := b.db.Function(ep.Function)
	req, err := b.bindInputs(ep.Name, "Request", ep.Inputs)
	if err != nil {
		b.failSerialization(fn, err)
		return
	}
	ep.Request = req

	if ep.Output == nil {
		return
	}
	ref, err := b.dtos.CreateDtoFromFieldList(b.domain, pascal(ep.Name)+"Response", []symbols.GeneratedField{
		{Name: ep.Output.Name, Type: ep.Output.Type},
	})
	if err != nil {
		b.failSerialization(fn, err)
		return
	}
	ep.Response, _ = b.dtos.Lookup(ref.ID)
}

func (b *builder) bindEvent(ev *Event) {
	fn, _ := b.db.Function(ev.Function)
	req, err := b.bindInputs(ev.Name, "Event", ev.Inputs)
	if err != nil {
		b.failSerialization(fn, err)
		return
	}
	ev.Request = req
}

// bindInputs returns the request message: none for no inputs, the shared
// message of the payload type for one input, a generated DTO otherwise.
func (b *builder) bindInputs(name, suffix string, inputs []Param) (*dto.Message, error) {
	switch len(inputs) {
	case 0:
		return nil, nil
	case 1:
		ref, err := b.dtos.MakeTypeSerializable(b.domain, inputs[0].Type)
		if err != nil {
			return nil, err
		}
		m, _ := b.dtos.Lookup(ref.ID)
		return m, nil
	default:
		fields := make([]symbols.GeneratedField, len(inputs))
		for i, in := range inputs {
			fields[i] = symbols.GeneratedField{Name: in.Name, Type: in.Type}
		}
		ref, err := b.dtos.CreateDtoFromFieldList(b.domain, pascal(name)+suffix, fields)
		if err != nil {
			return nil, err
		}
		m, _ := b.dtos.Lookup(ref.ID)
		return m, nil
	}
}

func (b *builder) fail(fn *symbols.Function, code, format string, args ...any) {
	e := ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
	if fn != nil {
		e.Function = fn.FullName
		e.Line = fn.Line
		if f, ok := b.db.File(fn.File); ok {
			e.File = f.Path
		}
	}
	b.errs = append(b.errs, e)
}

func (b *builder) failSerialization(fn *symbols.Function, err error) {
	var de *dto.Error
	if errors.As(err, &de) {
		b.fail(fn, ErrSerialization, "%s", de.Error())
		return
	}
	b.fail(fn, ErrSerialization, "%v", err)
}

// exportedName is the name= keyword of the classifying attribute, or the
// function name.
func exportedName(fn *symbols.Function, attr symbols.Attribute) string {
	if v, ok := attr.Keyword("name"); ok && v.Kind == symbols.ValueString && v.Str != "" {
		return v.Str
	}
	return fn.Name
}

// pascal turns snake_case into PascalCase.
func pascal(name string) string {
	var sb strings.Builder
	upper := true
	for _, r := range name {
		if r == '_' || r == '-' || r == '.' {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
