package symbols

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"

	"github.com/roach88/fwrpc/internal/params"
)

// parseUnit is everything one source file contributes, in declaration order.
type parseUnit struct {
	component  string
	path       string
	file       ID
	namespaces []*Namespace
	classes    []*Class
	functions  []*Function
	arguments  []*Argument
	properties []*Property
}

// newCppParser creates a tree-sitter parser for C++.
// Each goroutine must use its own parser.
func newCppParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(cpp.GetLanguage())
	return p
}

// parseSource parses one C++ source unit. Any syntax error or invalid scope
// transition rejects the whole file.
func parseSource(ctx context.Context, parser *sitter.Parser, component, path string, src []byte) (*parseUnit, error) {
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, &ParseError{Component: component, File: path, Message: "tree-sitter parse failed", Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		pe := &ParseError{Component: component, File: path, Message: "syntax error"}
		if n := firstErrorNode(root); n != nil {
			pe.Line = int(n.StartPoint().Row) + 1
			pe.Column = int(n.StartPoint().Column) + 1
			pe.Message = fmt.Sprintf("syntax error near %q", truncate(CollapseWhitespace(nodeText(n, src)), 40))
		}
		return nil, pe
	}

	w := &walker{
		src: src,
		unit: &parseUnit{
			component: component,
			path:      path,
			file:      FileID(component, path),
		},
	}
	if err := w.items(root); err != nil {
		pe := &ParseError{Component: component, File: path, Message: err.Error()}
		if w.errNode != nil {
			pe.Line = int(w.errNode.StartPoint().Row) + 1
			pe.Column = int(w.errNode.StartPoint().Column) + 1
		}
		return nil, pe
	}
	return w.unit, nil
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || !c.HasError() && !c.IsMissing() {
			continue
		}
		if found := firstErrorNode(c); found != nil {
			return found
		}
	}
	return nil
}

// nodeText returns the source text covered by node.
func nodeText(node *sitter.Node, src []byte) string {
	return string(src[node.StartByte():node.EndByte()])
}

// CollapseWhitespace replaces runs of whitespace with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// walker turns a syntax tree into a parseUnit.
type walker struct {
	src     []byte
	unit    *parseUnit
	scopes  scopeStack
	anon    int
	errNode *sitter.Node
}

func (w *walker) fail(n *sitter.Node, err error) error {
	if w.errNode == nil {
		w.errNode = n
	}
	return err
}

func (w *walker) text(n *sitter.Node) string {
	return nodeText(n, w.src)
}

func (w *walker) line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// items walks the children of a translation unit, namespace body, or
// preprocessor block. Attributes seen as standalone siblings attach to the
// next declaration.
func (w *walker) items(n *sitter.Node) error {
	var pending []Attribute
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		attrs, err := w.item(child, pending)
		if err != nil {
			return err
		}
		pending = attrs
	}
	return nil
}

// item handles one top-level or namespace-level node and returns the
// attributes still waiting for a declaration.
func (w *walker) item(n *sitter.Node, pending []Attribute) ([]Attribute, error) {
	switch n.Type() {
	case "attribute_declaration":
		attrs, err := w.attributes(n)
		if err != nil {
			return nil, err
		}
		return append(pending, attrs...), nil
	case "attributed_statement", "attributed_declarator":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			var err error
			pending, err = w.item(n.NamedChild(i), pending)
			if err != nil {
				return nil, err
			}
		}
		return pending, nil
	case "namespace_definition":
		return nil, w.namespace(n)
	case "struct_specifier", "class_specifier":
		_, err := w.class(n, pending)
		return nil, err
	case "declaration":
		return nil, w.declaration(n, pending)
	case "function_definition":
		return nil, w.function(n, pending)
	case "linkage_specification":
		if body := n.ChildByFieldName("body"); body != nil {
			if body.Type() == "declaration_list" {
				return nil, w.items(body)
			}
			return w.item(body, pending)
		}
		return nil, nil
	case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "preproc_elifdef":
		return pending, w.items(n)
	case "template_declaration", "comment", "using_declaration", "alias_declaration",
		"type_definition", "enum_specifier", "static_assert_declaration", "expression_statement":
		return nil, nil
	default:
		return pending, nil
	}
}

func (w *walker) attributes(n *sitter.Node) ([]Attribute, error) {
	attrs, err := ParseAttributes(w.text(n))
	if err != nil {
		return nil, w.fail(n, err)
	}
	return attrs, nil
}

// ownAttributes collects attribute_declaration children of n.
func (w *walker) ownAttributes(n *sitter.Node) ([]Attribute, error) {
	var out []Attribute
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "attribute_declaration" {
			continue
		}
		attrs, err := w.attributes(c)
		if err != nil {
			return nil, err
		}
		out = append(out, attrs...)
	}
	return out, nil
}

func (w *walker) namespace(n *sitter.Node) error {
	var names []string
	if name := n.ChildByFieldName("name"); name != nil {
		for _, part := range strings.Split(CollapseWhitespace(w.text(name)), "::") {
			if part = strings.TrimSpace(part); part != "" {
				names = append(names, part)
			}
		}
	}
	if len(names) == 0 {
		// Anonymous namespace: its contents live in the enclosing scope.
		if body := n.ChildByFieldName("body"); body != nil {
			return w.items(body)
		}
		return nil
	}

	for _, name := range names {
		parent := w.scopes.top()
		f, err := w.scopes.push(ScopeNamespace, name, KindNamespace)
		if err != nil {
			return w.fail(n, err)
		}
		w.unit.namespaces = append(w.unit.namespaces, &Namespace{
			ID:       f.ref.ID,
			Name:     name,
			FullName: f.fullName,
			Parent:   parent.ref,
			File:     w.unit.file,
		})
	}
	defer func() {
		for range names {
			w.scopes.pop()
		}
	}()

	if body := n.ChildByFieldName("body"); body != nil {
		return w.items(body)
	}
	return nil
}

// class registers a struct or class with a body. Forward declarations
// return a zero ID and contribute nothing.
func (w *walker) class(n *sitter.Node, pending []Attribute) (ID, error) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return 0, nil
	}

	own, err := w.ownAttributes(n)
	if err != nil {
		return 0, err
	}
	attrs := append(append([]Attribute(nil), pending...), own...)

	name := ""
	anonymous := false
	if nameNode := n.ChildByFieldName("name"); nameNode != nil {
		name = CollapseWhitespace(w.text(nameNode))
		if i := strings.LastIndex(name, "::"); i >= 0 {
			// Out-of-line definition of a nested class.
			return 0, nil
		}
	} else {
		name = fmt.Sprintf("__anonymous_%d", w.anon)
		w.anon++
		anonymous = true
	}

	parent := w.scopes.top()
	f, err := w.scopes.push(ScopeClass, name, KindClass)
	if err != nil {
		return 0, w.fail(n, err)
	}
	defer w.scopes.pop()

	cls := &Class{
		ID:         f.ref.ID,
		Name:       name,
		FullName:   f.fullName,
		Parent:     parent.ref,
		Anonymous:  anonymous,
		Attributes: attrs,
		File:       w.unit.file,
		Line:       w.line(n),
	}
	w.unit.classes = append(w.unit.classes, cls)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() != "base_class_clause" {
			continue
		}
		for j := 0; j < int(c.NamedChildCount()); j++ {
			b := c.NamedChild(j)
			switch b.Type() {
			case "access_specifier", "virtual", "attribute_declaration":
				continue
			}
			cls.Bases = append(cls.Bases, typeOf(w.text(b)))
		}
	}

	top := w.scopes.topPtr()
	top.public = n.Type() == "struct_specifier"
	return cls.ID, w.members(body, cls)
}

// members walks a field_declaration_list.
func (w *walker) members(body *sitter.Node, cls *Class) error {
	var pending []Attribute
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		var err error
		switch c.Type() {
		case "access_specifier":
			access := strings.TrimSuffix(strings.TrimSpace(w.text(c)), ":")
			w.scopes.topPtr().public = strings.TrimSpace(access) == "public"
			pending = nil
		case "attribute_declaration":
			var attrs []Attribute
			attrs, err = w.attributes(c)
			pending = append(pending, attrs...)
		case "field_declaration":
			err = w.field(c, cls, pending)
			pending = nil
		case "declaration":
			err = w.memberDeclaration(c, cls, pending)
			pending = nil
		case "function_definition":
			err = w.method(c, cls, pending)
			pending = nil
		case "struct_specifier", "class_specifier":
			_, err = w.class(c, pending)
			pending = nil
		case "preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif":
			err = w.members(c, cls)
		default:
			pending = nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// field handles a field_declaration: data members, method declarations,
// and nested struct definitions.
func (w *walker) field(n *sitter.Node, cls *Class, pending []Attribute) error {
	own, err := w.ownAttributes(n)
	if err != nil {
		return err
	}
	attrs := append(append([]Attribute(nil), pending...), own...)

	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return nil
	}
	static := hasChildText(n, "storage_class_specifier", "static", w.src)

	var declarators []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if isDeclarator(c.Type()) {
			declarators = append(declarators, c)
		}
	}

	var fieldType CppType
	switch typeNode.Type() {
	case "struct_specifier", "class_specifier":
		id, err := w.class(typeNode, nil)
		if err != nil {
			return err
		}
		if id != 0 {
			fieldType = ClassRef{ID: id}
		}
	}
	if fieldType == nil {
		fieldType = typeOf(w.text(typeNode))
	}

	for _, d := range declarators {
		if fn := findFunctionDeclarator(d); fn != nil {
			f, err := w.declareFunction(n, typeNode, d, fn, attrs)
			if err != nil {
				return err
			}
			if f != nil {
				cls.Methods = append(cls.Methods, f.ID)
			}
			continue
		}
		if err := w.property(d, cls, fieldType, w.text(typeNode), static, attrs); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) property(d *sitter.Node, cls *Class, base CppType, baseText string, static bool, attrs []Attribute) error {
	name, mods := unwrapDeclarator(d, w.src)
	if name == "" {
		return nil
	}
	kind := ScopeField
	if static {
		kind = ScopeStaticField
	}
	public := w.scopes.top().public
	f, err := w.scopes.push(kind, name, KindProperty)
	if err != nil {
		return w.fail(d, err)
	}
	w.scopes.pop()

	t := base
	if mods.pointer > 0 || mods.reference || mods.array {
		t = Unresolved{Text: CollapseWhitespace(baseText) + mods.suffix()}
	}
	prop := &Property{
		ID:         f.ref.ID,
		Name:       name,
		Class:      cls.ID,
		Type:       t,
		Public:     public,
		Static:     static,
		Attributes: attrs,
		Line:       w.line(d),
	}
	cls.Properties = append(cls.Properties, prop.ID)
	w.unit.properties = append(w.unit.properties, prop)
	return nil
}

// memberDeclaration handles a declaration inside a class body. Constructors
// have no type node and are skipped.
func (w *walker) memberDeclaration(n *sitter.Node, cls *Class, pending []Attribute) error {
	before := len(w.unit.functions)
	if err := w.declaration(n, pending); err != nil {
		return err
	}
	for _, fn := range w.unit.functions[before:] {
		if fn.Parent.ID == cls.ID {
			cls.Methods = append(cls.Methods, fn.ID)
		}
	}
	return nil
}

func (w *walker) method(n *sitter.Node, cls *Class, pending []Attribute) error {
	before := len(w.unit.functions)
	if err := w.function(n, pending); err != nil {
		return err
	}
	for _, fn := range w.unit.functions[before:] {
		if fn.Parent.ID == cls.ID {
			cls.Methods = append(cls.Methods, fn.ID)
		}
	}
	return nil
}

// declaration handles namespace-scope declarations. Only function
// declarations and struct definitions contribute; variables are skipped.
func (w *walker) declaration(n *sitter.Node, pending []Attribute) error {
	own, err := w.ownAttributes(n)
	if err != nil {
		return err
	}
	attrs := append(append([]Attribute(nil), pending...), own...)

	typeNode := n.ChildByFieldName("type")
	if typeNode == nil {
		return nil
	}
	switch typeNode.Type() {
	case "struct_specifier", "class_specifier":
		if _, err := w.class(typeNode, nil); err != nil {
			return err
		}
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if !isDeclarator(d.Type()) {
			continue
		}
		fn := findFunctionDeclarator(d)
		if fn == nil {
			continue
		}
		if _, err := w.declareFunction(n, typeNode, d, fn, attrs); err != nil {
			return err
		}
	}
	return nil
}

// function handles a function_definition. The body is not inspected.
func (w *walker) function(n *sitter.Node, pending []Attribute) error {
	own, err := w.ownAttributes(n)
	if err != nil {
		return err
	}
	attrs := append(append([]Attribute(nil), pending...), own...)

	typeNode := n.ChildByFieldName("type")
	d := n.ChildByFieldName("declarator")
	if typeNode == nil || d == nil {
		return nil
	}
	fn := findFunctionDeclarator(d)
	if fn == nil {
		return nil
	}
	_, err = w.declareFunction(n, typeNode, d, fn, attrs)
	return err
}

// declareFunction records one function. outer is the full declarator (it
// may wrap fn in pointer or reference declarators that apply to the return
// type).
func (w *walker) declareFunction(n, typeNode, outer, fn *sitter.Node, attrs []Attribute) (*Function, error) {
	nameNode := fn.ChildByFieldName("declarator")
	if nameNode == nil {
		return nil, nil
	}
	switch nameNode.Type() {
	case "identifier", "field_identifier":
	default:
		// Qualified out-of-line definitions, operators and destructors.
		return nil, nil
	}
	name := w.text(nameNode)

	for i := 0; i < int(fn.NamedChildCount()); i++ {
		if c := fn.NamedChild(i); c.Type() == "attribute_declaration" {
			more, err := w.attributes(c)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, more...)
		}
	}

	parent := w.scopes.top()
	f, err := w.scopes.push(ScopeFunction, name, KindFunction)
	if err != nil {
		return nil, w.fail(n, err)
	}
	defer w.scopes.pop()

	ret := returnType(w.text(typeNode), outer, w.src)
	function := &Function{
		ID:         f.ref.ID,
		Name:       name,
		FullName:   f.fullName,
		Parent:     parent.ref,
		Return:     ret,
		Attributes: attrs,
		File:       w.unit.file,
		Line:       w.line(n),
	}
	w.unit.functions = append(w.unit.functions, function)

	paramList := fn.ChildByFieldName("parameters")
	if paramList == nil {
		return function, nil
	}
	index := 0
	for i := 0; i < int(paramList.NamedChildCount()); i++ {
		p := paramList.NamedChild(i)
		switch p.Type() {
		case "parameter_declaration", "optional_parameter_declaration",
			"variadic_parameter_declaration", "variadic_parameter":
		default:
			continue
		}
		arg, err := w.argument(p, function, index)
		if err != nil {
			return nil, err
		}
		if arg == nil {
			continue
		}
		function.Args = append(function.Args, arg.ID)
		w.unit.arguments = append(w.unit.arguments, arg)
		index++
	}
	return function, nil
}

func (w *walker) argument(p *sitter.Node, fn *Function, index int) (*Argument, error) {
	typeNode := p.ChildByFieldName("type")
	if p.Type() == "variadic_parameter" {
		typeNode = nil
	}
	if typeNode == nil {
		if p.Type() == "variadic_parameter" || strings.TrimSpace(w.text(p)) == "..." {
			return w.pushArgument(p, fn, index, fmt.Sprintf("arg%d", index), ArgInvalid, false, Unresolved{Text: "..."})
		}
		return nil, nil
	}
	typeText := CollapseWhitespace(w.text(typeNode))
	if typeText == "void" && p.ChildByFieldName("declarator") == nil {
		// f(void)
		return nil, nil
	}

	isConst := hasChildText(p, "type_qualifier", "const", w.src)
	var mods declMods
	name := ""
	if d := p.ChildByFieldName("declarator"); d != nil {
		name, mods = unwrapDeclarator(d, w.src)
	}
	if name == "" {
		name = fmt.Sprintf("arg%d", index)
	}

	category := categorize(isConst, mods)
	if p.Type() == "variadic_parameter_declaration" {
		category = ArgInvalid
	}
	t := typeOf(typeText)
	return w.pushArgument(p, fn, index, name, category, mods.pointer == 1, t)
}

func (w *walker) pushArgument(p *sitter.Node, fn *Function, index int, name string, cat ArgCategory, pointer bool, t CppType) (*Argument, error) {
	f, err := w.scopes.push(ScopeArgument, name, KindArgument)
	if err != nil {
		return nil, w.fail(p, err)
	}
	w.scopes.pop()
	return &Argument{
		ID:       f.ref.ID,
		Name:     name,
		Function: fn.ID,
		Index:    index,
		Category: cat,
		Pointer:  pointer,
		Type:     t,
	}, nil
}

// categorize maps the declarator shape of a parameter to its category.
func categorize(isConst bool, m declMods) ArgCategory {
	switch {
	case m.rvalue, m.array, m.pointer > 1, m.reference && m.pointer > 0:
		return ArgInvalid
	case m.reference && isConst:
		return ArgInput
	case m.reference:
		return ArgOutput
	case isConst && m.pointer == 0:
		return ArgConst
	default:
		return ArgValue
	}
}

// declMods records what a declarator wraps around its base type.
type declMods struct {
	pointer   int
	reference bool
	rvalue    bool
	array     bool
}

func (m declMods) suffix() string {
	s := strings.Repeat("*", m.pointer)
	if m.rvalue {
		s += "&&"
	} else if m.reference {
		s += "&"
	}
	if m.array {
		s += "[]"
	}
	return s
}

var declaratorTypes = map[string]bool{
	"identifier":                    true,
	"field_identifier":              true,
	"function_declarator":           true,
	"pointer_declarator":            true,
	"reference_declarator":          true,
	"array_declarator":              true,
	"init_declarator":               true,
	"parenthesized_declarator":      true,
	"abstract_pointer_declarator":   true,
	"abstract_reference_declarator": true,
	"abstract_array_declarator":     true,
	"bitfield_clause":               false,
}

func isDeclarator(t string) bool {
	return declaratorTypes[t]
}

// unwrapDeclarator peels pointer, reference, array, init and parenthesized
// declarators down to the identifier.
func unwrapDeclarator(d *sitter.Node, src []byte) (string, declMods) {
	var m declMods
	for d != nil {
		switch d.Type() {
		case "identifier", "field_identifier":
			return nodeText(d, src), m
		case "reference_declarator", "abstract_reference_declarator":
			if d.ChildCount() > 0 && d.Child(0).Type() == "&&" {
				m.rvalue = true
			} else {
				m.reference = true
			}
			d = lastNamedChild(d)
		case "pointer_declarator", "abstract_pointer_declarator":
			m.pointer++
			d = d.ChildByFieldName("declarator")
		case "array_declarator", "abstract_array_declarator":
			m.array = true
			d = d.ChildByFieldName("declarator")
		case "init_declarator", "parenthesized_declarator", "attributed_declarator":
			if inner := d.ChildByFieldName("declarator"); inner != nil {
				d = inner
			} else {
				d = firstNamedDeclarator(d)
			}
		default:
			return "", m
		}
	}
	return "", m
}

func lastNamedChild(n *sitter.Node) *sitter.Node {
	for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
		c := n.NamedChild(i)
		if isDeclarator(c.Type()) {
			return c
		}
	}
	return nil
}

func firstNamedDeclarator(n *sitter.Node) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); isDeclarator(c.Type()) {
			return c
		}
	}
	return nil
}

// findFunctionDeclarator returns the function_declarator inside d, if d
// declares a function.
func findFunctionDeclarator(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Type() {
		case "function_declarator":
			return d
		case "pointer_declarator", "reference_declarator":
			d = lastNamedChild(d)
		case "parenthesized_declarator", "attributed_declarator":
			// (*fp)(...) is a function pointer variable, not a function.
			return nil
		default:
			return nil
		}
	}
	return nil
}

// returnType computes a function's return type from its type node text and
// whatever pointer or reference declarators wrap the function declarator.
func returnType(text string, outer *sitter.Node, src []byte) CppType {
	text = CollapseWhitespace(text)
	var m declMods
	for d := outer; d != nil && d.Type() != "function_declarator"; {
		switch d.Type() {
		case "pointer_declarator":
			m.pointer++
		case "reference_declarator":
			m.reference = true
		}
		d = lastNamedChild(d)
	}
	if text == "void" && m.pointer == 0 {
		return nil
	}
	if m.pointer > 0 || m.reference {
		return Unresolved{Text: text + m.suffix()}
	}
	return typeOf(text)
}

// typeOf maps textual type names to a scalar Param or a deferred
// Unresolved reference.
func typeOf(text string) CppType {
	text = CollapseWhitespace(text)
	for _, kw := range []string{"struct ", "class ", "enum ", "typename "} {
		text = strings.TrimPrefix(text, kw)
	}
	if k, ok := params.Lookup(text); ok {
		return Param{Kind: k}
	}
	return Unresolved{Text: text}
}

// TypeText renders a type without database context: class references
// print as their ID.
func TypeText(t CppType) string {
	switch v := t.(type) {
	case nil:
		return "void"
	case Param:
		return v.Kind.String()
	case Unresolved:
		return v.Text
	case ClassRef:
		return "class#" + v.ID.String()
	default:
		return "?"
	}
}

func hasChildText(n *sitter.Node, nodeType, text string, src []byte) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == nodeType && nodeText(c, src) == text {
			return true
		}
	}
	return false
}
