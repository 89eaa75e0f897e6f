package symbols

import (
	"fmt"
	"strconv"
	"strings"
	"text/scanner"
)

// ParseAttributes parses the text of one attribute list. Both the bracketed
// form "[[a::b(1), c]]" and the bare list "a::b(1), c" are accepted.
//
// Grammar:
//
//	list  := attr { "," attr }
//	attr  := ident { "::" ident } [ "(" [ arg { "," arg } ] ")" ]
//	arg   := ident "=" value | value
//	value := string | char | ["-"] int | ["-"] float | "true" | "false" | ident
//
// A bare identifier value is taken as a string.
func ParseAttributes(text string) ([]Attribute, error) {
	p := &attrParser{}
	p.s.Init(strings.NewReader(text))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats |
		scanner.ScanStrings | scanner.ScanRawStrings | scanner.ScanChars |
		scanner.ScanComments | scanner.SkipComments
	p.s.Error = func(s *scanner.Scanner, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("attribute %d:%d: %s", s.Position.Line, s.Position.Column, msg)
		}
	}
	p.next()

	bracketed := false
	if p.tok == '[' {
		p.expect('[')
		p.expect('[')
		bracketed = true
	}

	var attrs []Attribute
	for p.err == nil {
		attrs = append(attrs, p.attribute())
		if p.tok != ',' {
			break
		}
		p.next()
	}

	if bracketed {
		p.expect(']')
		p.expect(']')
	}
	if p.err == nil && p.tok != scanner.EOF {
		p.errorf("unexpected %s after attribute list", scanner.TokenString(p.tok))
	}
	if p.err != nil {
		return nil, p.err
	}
	return attrs, nil
}

type attrParser struct {
	s   scanner.Scanner
	tok rune
	err error
}

func (p *attrParser) next() {
	p.tok = p.s.Scan()
}

func (p *attrParser) errorf(format string, args ...any) {
	if p.err == nil {
		pos := p.s.Position
		p.err = fmt.Errorf("attribute %d:%d: %s", pos.Line, pos.Column, fmt.Sprintf(format, args...))
	}
}

func (p *attrParser) expect(tok rune) {
	if p.err != nil {
		return
	}
	if p.tok != tok {
		p.errorf("expected %s, found %s", scanner.TokenString(tok), scanner.TokenString(p.tok))
		return
	}
	p.next()
}

func (p *attrParser) ident() string {
	if p.err != nil {
		return ""
	}
	if p.tok != scanner.Ident {
		p.errorf("expected identifier, found %s", scanner.TokenString(p.tok))
		return ""
	}
	name := p.s.TokenText()
	p.next()
	return name
}

func (p *attrParser) attribute() Attribute {
	var a Attribute
	a.Path = append(a.Path, p.ident())
	for p.err == nil && p.tok == ':' {
		p.expect(':')
		p.expect(':')
		a.Path = append(a.Path, p.ident())
	}

	if p.err != nil || p.tok != '(' {
		return a
	}
	p.next()

	for p.err == nil && p.tok != ')' {
		p.argument(&a)
		if p.tok != ',' {
			break
		}
		p.next()
	}
	p.expect(')')
	return a
}

func (p *attrParser) argument(a *Attribute) {
	if p.tok == scanner.Ident {
		text := p.s.TokenText()
		p.next()
		if p.tok == '=' {
			p.next()
			v := p.value()
			for _, kw := range a.Kwargs {
				if kw.Name == text {
					p.errorf("duplicate keyword %q", text)
					return
				}
			}
			a.Kwargs = append(a.Kwargs, KeywordArg{Name: text, Value: v})
			return
		}
		if len(a.Kwargs) > 0 {
			p.errorf("positional argument after keyword argument")
			return
		}
		a.Args = append(a.Args, identValue(text))
		return
	}

	if len(a.Kwargs) > 0 {
		p.errorf("positional argument after keyword argument")
		return
	}
	a.Args = append(a.Args, p.value())
}

func (p *attrParser) value() Value {
	if p.err != nil {
		return Value{}
	}

	negative := false
	if p.tok == '-' {
		negative = true
		p.next()
	}

	text := p.s.TokenText()
	switch p.tok {
	case scanner.Int:
		p.next()
		n, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			p.errorf("invalid integer %q", text)
			return Value{}
		}
		if negative {
			n = -n
		}
		return Value{Kind: ValueInt, Int: n}
	case scanner.Float:
		p.next()
		f, err := strconv.ParseFloat(strings.TrimRight(text, "fF"), 64)
		if err != nil {
			p.errorf("invalid float %q", text)
			return Value{}
		}
		if negative {
			f = -f
		}
		return Value{Kind: ValueFloat, Float: f}
	}

	if negative {
		p.errorf("expected number after '-', found %s", scanner.TokenString(p.tok))
		return Value{}
	}

	switch p.tok {
	case scanner.String, scanner.RawString, scanner.Char:
		p.next()
		if strings.HasPrefix(text, "'") {
			return Value{Kind: ValueString, Str: strings.Trim(text, "'")}
		}
		s, err := strconv.Unquote(text)
		if err != nil {
			p.errorf("invalid string %s", text)
			return Value{}
		}
		return Value{Kind: ValueString, Str: s}
	case scanner.Ident:
		p.next()
		return identValue(text)
	default:
		p.errorf("expected value, found %s", scanner.TokenString(p.tok))
		return Value{}
	}
}

func identValue(text string) Value {
	switch text {
	case "true":
		return Value{Kind: ValueBool, Bool: true}
	case "false":
		return Value{Kind: ValueBool, Bool: false}
	default:
		return Value{Kind: ValueString, Str: text}
	}
}
