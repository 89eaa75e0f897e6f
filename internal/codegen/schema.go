package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/emicklei/proto"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/params"
	"github.com/roach88/fwrpc/internal/symbols"
)

// SchemaFile is the schema file name of a domain.
func SchemaFile(domain string) string {
	return strings.ReplaceAll(domain, ".", "_") + ".proto"
}

// Schema emits the proto3 schema of every message in the registry's
// domain, in registration order. The output is re-parsed before it is
// returned.
func Schema(reg *api.Registry, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	dtos := reg.DTOs()
	db := dtos.Database()
	msgs := dtos.DomainMessages(reg.Domain)

	var b bytes.Buffer
	fmt.Fprintf(&b, "// %s\n", Header)
	fmt.Fprintf(&b, "// core_hash: 0x%08x reserved_hash: 0x%08x api_hash: 0x%08x\n\n",
		reg.Compat.Core, reg.Compat.Reserved, reg.Compat.API)
	b.WriteString("syntax = \"proto3\";\n\n")
	fmt.Fprintf(&b, "package %s;\n", reg.Domain)
	if dtos.UsesWrappers(reg.Domain) {
		fmt.Fprintf(&b, "\nimport %q;\n", params.ProtoFile)
	}
	if opts.GoImport != "" {
		fmt.Fprintf(&b, "\noption go_package = %q;\n", opts.GoImport+";"+opts.GoPackage)
	}
	for _, m := range msgs {
		b.WriteByte('\n')
		writeMessage(&b, db, m)
	}

	out := b.Bytes()
	if err := checkSchema(out, msgs); err != nil {
		return nil, fmt.Errorf("schema self-check: %w", err)
	}
	return out, nil
}

func writeMessage(b *bytes.Buffer, db *symbols.Database, m *dto.Message) {
	if c := describe(db, m); c != "" {
		fmt.Fprintf(b, "// %s\n", c)
	}
	if m.VariableLength {
		b.WriteString("// max_size: variable\n")
	} else {
		fmt.Fprintf(b, "// max_size: %d\n", m.MaxSize)
	}
	fmt.Fprintf(b, "message %s {\n", m.Name)
	for _, f := range m.Fields {
		fmt.Fprintf(b, "  %s %s = %d;\n", f.Type, f.Name, f.Number)
	}
	b.WriteString("}\n")
}

func describe(db *symbols.Database, m *dto.Message) string {
	cls, ok := db.Class(m.Source)
	if !ok {
		return ""
	}
	switch m.Variant {
	case dto.SerializableClass:
		return fmt.Sprintf("%s mirrors %s.", m.Name, cls.FullName)
	case dto.ClassDto:
		return fmt.Sprintf("%s carries the public fields of %s.", m.Name, cls.FullName)
	case dto.AnonymousClassDto:
		if parent, ok := db.Class(cls.Parent.ID); ok {
			return fmt.Sprintf("%s mirrors an anonymous struct in %s.", m.Name, parent.FullName)
		}
		return fmt.Sprintf("%s mirrors an anonymous struct.", m.Name)
	case dto.GeneratedDto:
		return fmt.Sprintf("%s is generated.", m.Name)
	default:
		return ""
	}
}

// checkSchema parses src and confirms it declares exactly msgs.
func checkSchema(src []byte, msgs []*dto.Message) error {
	def, err := proto.NewParser(bytes.NewReader(src)).Parse()
	if err != nil {
		return err
	}
	fields := make(map[string]int)
	var order []string
	proto.Walk(def, proto.WithMessage(func(m *proto.Message) {
		n := 0
		for _, e := range m.Elements {
			if _, ok := e.(*proto.NormalField); ok {
				n++
			}
		}
		fields[m.Name] = n
		order = append(order, m.Name)
	}))
	if len(order) != len(msgs) {
		return fmt.Errorf("parsed %d messages, emitted %d", len(order), len(msgs))
	}
	for i, m := range msgs {
		if order[i] != m.Name {
			return fmt.Errorf("message %d is %s, want %s", i, order[i], m.Name)
		}
		if fields[m.Name] != len(m.Fields) {
			return fmt.Errorf("message %s has %d fields, want %d", m.Name, fields[m.Name], len(m.Fields))
		}
	}
	return nil
}

// ParamsSchema returns the wrapper catalogue to publish next to the
// schema, with a go_package option added when GoImport is set.
func ParamsSchema(opts Options) []byte {
	opts = opts.withDefaults()
	src := bytes.Clone(opts.ParamsSource)
	if opts.GoImport == "" || bytes.Contains(src, []byte("option go_package")) {
		return src
	}
	var out bytes.Buffer
	for _, line := range bytes.SplitAfter(src, []byte("\n")) {
		out.Write(line)
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("package ")) {
			fmt.Fprintf(&out, "\noption go_package = %q;\n", opts.GoImport+";"+opts.GoPackage)
		}
	}
	return out.Bytes()
}
