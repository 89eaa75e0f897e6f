package api

import (
	"strings"

	"github.com/roach88/fwrpc/internal/params"
	"github.com/roach88/fwrpc/internal/symbols"
)

// AttributeNamespace is the attribute namespace that marks remote-call
// functions.
const AttributeNamespace = "rpc"

var categories = map[string]Category{
	"rpc::endpoint":  CategoryEndpoint,
	"rpc::event":     CategoryEvent,
	"rpc::responder": CategoryResponder,
	"rpc::sink":      CategorySink,
}

// classify returns the category of fn. Functions without rpc:: attributes
// are not part of the API; functions with unknown or several rpc::
// attributes fail with E208.
func (b *builder) classify(fn *symbols.Function) (Category, symbols.Attribute, bool) {
	var (
		found    []symbols.Attribute
		rejected bool
	)
	for _, a := range fn.Attributes {
		if !a.InNamespace(AttributeNamespace) {
			continue
		}
		if _, ok := categories[a.Name()]; !ok {
			b.fail(fn, ErrClassification, "unknown attribute %s", a.Name())
			rejected = true
			continue
		}
		found = append(found, a)
	}
	if rejected {
		return 0, symbols.Attribute{}, false
	}
	switch len(found) {
	case 0:
		return 0, symbols.Attribute{}, false
	case 1:
		return categories[found[0].Name()], found[0], true
	default:
		names := make([]string, len(found))
		for i, a := range found {
			names[i] = a.Name()
		}
		b.fail(fn, ErrClassification, "multiple classifications: %s", strings.Join(names, ", "))
		return 0, symbols.Attribute{}, false
	}
}

// splitArgs applies the shared argument rule: leading const-reference
// inputs and an optional trailing non-const reference output.
func (b *builder) splitArgs(fn *symbols.Function) (inputs []Param, output *Param, ok bool) {
	args := b.db.Arguments(fn)
	ok = true
	for i, a := range args {
		p := Param{Name: a.Name, Type: a.Type, Arg: a.ID}
		last := i == len(args)-1
		switch {
		case a.Category == symbols.ArgInput:
			inputs = append(inputs, p)
		case a.Category == symbols.ArgOutput && last:
			output = &p
		case a.Category == symbols.ArgOutput:
			b.fail(fn, ErrArgumentShape, "output argument %q must be last", a.Name)
			ok = false
		default:
			b.fail(fn, ErrArgumentShape, "argument %q is %s, want a const reference", a.Name, a.Category)
			ok = false
		}
	}
	return inputs, output, ok
}

func (b *builder) endpoint(fn *symbols.Function, name string) *Endpoint {
	returnsError := isErrorType(b.db, fn.Return)
	retOK := fn.Return == nil || returnsError
	if !retOK {
		b.fail(fn, ErrReturnType, "endpoint returns %s, want void or Error", b.db.TypeString(fn.Return))
	}
	inputs, output, argsOK := b.splitArgs(fn)
	if !retOK || !argsOK {
		return nil
	}

	shape := ShapeTrigger
	switch {
	case len(inputs) > 0 && output != nil:
		shape = ShapeFunction
	case output != nil:
		shape = ShapeGetter
	case len(inputs) > 0:
		shape = ShapeSetter
	}
	ep := &Endpoint{
		Name:         name,
		Function:     fn.ID,
		FullName:     fn.FullName,
		Shape:        shape,
		Inputs:       inputs,
		Output:       output,
		ReturnsError: returnsError,
	}
	ep.Signature = b.signature(name, CategoryEndpoint, inputs, output, fn.Return)
	return ep
}

// eventShape validates the event/responder rule: void return, inputs only.
func (b *builder) eventShape(fn *symbols.Function, what string) ([]Param, bool) {
	ok := true
	if fn.Return != nil {
		b.fail(fn, ErrReturnType, "%s returns %s, want void", what, b.db.TypeString(fn.Return))
		ok = false
	}
	inputs, output, argsOK := b.splitArgs(fn)
	if output != nil {
		b.fail(fn, ErrOutputNotAllowed, "%s cannot have output argument %q", what, output.Name)
		ok = false
	}
	return inputs, ok && argsOK
}

func (b *builder) event(fn *symbols.Function, name string) *Event {
	inputs, ok := b.eventShape(fn, "event")
	if !ok {
		return nil
	}
	return &Event{
		Name:      name,
		Function:  fn.ID,
		FullName:  fn.FullName,
		Inputs:    inputs,
		Signature: b.signature(name, CategoryEvent, inputs, nil, nil),
	}
}

func (b *builder) responder(fn *symbols.Function, name string, attr symbols.Attribute) *Responder {
	inputs, ok := b.eventShape(fn, "responder")

	event := ""
	if v, found := attr.Keyword("event"); found && v.Kind == symbols.ValueString {
		event = v.Str
	} else if len(attr.Args) > 0 && attr.Args[0].Kind == symbols.ValueString {
		event = attr.Args[0].Str
	}
	if event == "" {
		b.fail(fn, ErrResponderNoEvent, "responder must name the event it responds to")
		ok = false
	}
	if !ok {
		return nil
	}
	return &Responder{
		Name:      name,
		Function:  fn.ID,
		FullName:  fn.FullName,
		Event:     event,
		Inputs:    inputs,
		Signature: b.signature(name, CategoryResponder, inputs, nil, nil),
	}
}

// sink validates (buffer pointer, unsigned length) -> void.
func (b *builder) sink(fn *symbols.Function, name string) *Sink {
	args := b.db.Arguments(fn)
	bad := func(format string, a ...any) *Sink {
		b.fail(fn, ErrSinkSignature, format, a...)
		return nil
	}
	if fn.Return != nil {
		return bad("sink returns %s, want void", b.db.TypeString(fn.Return))
	}
	if len(args) != 2 {
		return bad("sink takes %d arguments, want (buffer*, length)", len(args))
	}
	buf, length := args[0], args[1]
	bufType, isParam := buf.Type.(symbols.Param)
	if !buf.Pointer || buf.Category != symbols.ArgValue || !isParam ||
		(bufType.Kind != params.Uint8 && bufType.Kind != params.Int8) {
		return bad("first argument %q must be a byte buffer pointer", buf.Name)
	}
	lenType, isParam := length.Type.(symbols.Param)
	if length.Pointer || !isParam || !lenType.Kind.IsUnsignedInteger() ||
		(length.Category != symbols.ArgValue && length.Category != symbols.ArgConst) {
		return bad("second argument %q must be an unsigned length by value", length.Name)
	}
	sig := name + ":" + CategorySink.String() + "(" + buf.Name + ":" + bufType.Kind.String() + "*," +
		length.Name + ":" + lenType.Kind.String() + ")->void"
	return &Sink{
		Name:      name,
		Function:  fn.ID,
		FullName:  fn.FullName,
		Buffer:    buf.Name,
		Length:    length.Name,
		Signature: sig,
	}
}

// isErrorType reports whether t names a class called Error in any scope.
func isErrorType(db *symbols.Database, t symbols.CppType) bool {
	switch v := t.(type) {
	case symbols.ClassRef:
		if cls, ok := db.Class(v.ID); ok {
			return cls.Name == "Error"
		}
	case symbols.Unresolved:
		name := v.Text
		if i := strings.LastIndex(name, "::"); i >= 0 {
			name = name[i+2:]
		}
		return name == "Error"
	}
	return false
}

func (b *builder) sameInputs(a, c []Param) bool {
	if len(a) != len(c) {
		return false
	}
	for i := range a {
		if b.db.TypeString(a[i].Type) != b.db.TypeString(c[i].Type) {
			return false
		}
	}
	return true
}

func (b *builder) paramList(ps []Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = b.db.TypeString(p.Type)
	}
	return strings.Join(parts, ", ")
}
