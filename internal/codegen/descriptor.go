package codegen

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
	"github.com/roach88/fwrpc/internal/params"
)

var primitiveTypes = map[string]descriptorpb.FieldDescriptorProto_Type{
	"sint32": descriptorpb.FieldDescriptorProto_TYPE_SINT32,
	"sint64": descriptorpb.FieldDescriptorProto_TYPE_SINT64,
	"int32":  descriptorpb.FieldDescriptorProto_TYPE_INT32,
	"int64":  descriptorpb.FieldDescriptorProto_TYPE_INT64,
	"uint32": descriptorpb.FieldDescriptorProto_TYPE_UINT32,
	"uint64": descriptorpb.FieldDescriptorProto_TYPE_UINT64,
	"float":  descriptorpb.FieldDescriptorProto_TYPE_FLOAT,
	"double": descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
	"bool":   descriptorpb.FieldDescriptorProto_TYPE_BOOL,
	"string": descriptorpb.FieldDescriptorProto_TYPE_STRING,
	"bytes":  descriptorpb.FieldDescriptorProto_TYPE_BYTES,
}

// Descriptors builds the wrapper catalogue and the domain schema as
// protobuf file descriptors.
func Descriptors(reg *api.Registry) (*protoregistry.Files, error) {
	dtos := reg.DTOs()
	cat := dtos.Catalogue()

	paramsFile := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(params.ProtoFile),
		Package: proto.String(cat.Package),
		Syntax:  proto.String("proto3"),
	}
	for _, name := range cat.Names() {
		w, _ := cat.Wrapper(name)
		typ, ok := primitiveTypes[w.Primitive]
		if !ok {
			return nil, fmt.Errorf("wrapper %s: unknown primitive %q", w.Name, w.Primitive)
		}
		paramsFile.MessageType = append(paramsFile.MessageType, &descriptorpb.DescriptorProto{
			Name:  proto.String(w.Name),
			Field: []*descriptorpb.FieldDescriptorProto{field(w.Field, w.Number, typ, "")},
		})
	}

	domainFile := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(SchemaFile(reg.Domain)),
		Package:    proto.String(reg.Domain),
		Syntax:     proto.String("proto3"),
		Dependency: []string{params.ProtoFile},
	}
	for _, m := range dtos.DomainMessages(reg.Domain) {
		d := &descriptorpb.DescriptorProto{Name: proto.String(m.Name)}
		for _, f := range m.Fields {
			if f.Message {
				d.Field = append(d.Field, field(f.Name, f.Number,
					descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName(dtos, reg.Domain, f.Type)))
				continue
			}
			typ, ok := primitiveTypes[f.Type]
			if !ok {
				return nil, fmt.Errorf("%s.%s: unknown primitive %q", m.Name, f.Name, f.Type)
			}
			d.Field = append(d.Field, field(f.Name, f.Number, typ, ""))
		}
		domainFile.MessageType = append(domainFile.MessageType, d)
	}

	files, err := protodesc.NewFiles(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{paramsFile, domainFile},
	})
	if err != nil {
		return nil, fmt.Errorf("build descriptors: %w", err)
	}
	return files, nil
}

func field(name string, number int, typ descriptorpb.FieldDescriptorProto_Type, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(int32(number)),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

// typeName turns a field's message reference into a fully-qualified name.
func typeName(dtos *dto.Registry, domain, ref string) string {
	if _, ok := dtos.Message(domain + "." + ref); ok {
		return "." + domain + "." + ref
	}
	return "." + ref
}

// Codec converts between JSON and wire payloads for a registry's
// endpoints and events.
type Codec struct {
	reg   *api.Registry
	files *protoregistry.Files
}

// NewCodec builds the descriptors of reg.
func NewCodec(reg *api.Registry) (*Codec, error) {
	files, err := Descriptors(reg)
	if err != nil {
		return nil, err
	}
	return &Codec{reg: reg, files: files}, nil
}

// NewMessage returns an empty dynamic message of the given full name.
func (c *Codec) NewMessage(fullName string) (*dynamicpb.Message, error) {
	d, err := c.files.FindDescriptorByName(protoreflect.FullName(fullName))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", fullName, err)
	}
	md, ok := d.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a message", fullName)
	}
	return dynamicpb.NewMessage(md), nil
}

// EncodeRequest encodes a JSON request for the named endpoint. Endpoints
// without inputs take an empty payload.
func (c *Codec) EncodeRequest(endpoint string, js []byte) (uint16, []byte, error) {
	ep, ok := c.reg.Endpoint(endpoint)
	if !ok {
		return 0, nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}
	payload, err := c.encode(ep.Request, js)
	return ep.ID, payload, err
}

// DecodeResponse renders a response payload of the named endpoint as JSON.
func (c *Codec) DecodeResponse(endpoint string, payload []byte) ([]byte, error) {
	ep, ok := c.reg.Endpoint(endpoint)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}
	return c.decode(ep.Response, payload)
}

// EncodeResponse encodes a JSON response for the named endpoint, as a
// device would send it.
func (c *Codec) EncodeResponse(endpoint string, js []byte) ([]byte, error) {
	ep, ok := c.reg.Endpoint(endpoint)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}
	return c.encode(ep.Response, js)
}

// EncodeEvent encodes a JSON payload for the event at index.
func (c *Codec) EncodeEvent(index uint16, js []byte) ([]byte, error) {
	if int(index) >= len(c.reg.Events) {
		return nil, fmt.Errorf("unknown event index %d", index)
	}
	return c.encode(c.reg.Events[index].Request, js)
}

// DecodeEvent renders the payload of the event at index as JSON.
func (c *Codec) DecodeEvent(index uint16, payload []byte) ([]byte, error) {
	if int(index) >= len(c.reg.Events) {
		return nil, fmt.Errorf("unknown event index %d", index)
	}
	return c.decode(c.reg.Events[index].Request, payload)
}

func (c *Codec) encode(m *dto.Message, js []byte) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	msg, err := c.NewMessage(m.QualifiedName())
	if err != nil {
		return nil, err
	}
	if len(js) > 0 {
		if err := protojson.Unmarshal(js, msg); err != nil {
			return nil, fmt.Errorf("decode %s json: %w", m.QualifiedName(), err)
		}
	}
	return proto.Marshal(msg)
}

func (c *Codec) decode(m *dto.Message, payload []byte) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	msg, err := c.NewMessage(m.QualifiedName())
	if err != nil {
		return nil, err
	}
	if err := proto.Unmarshal(payload, msg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.QualifiedName(), err)
	}
	return protojson.MarshalOptions{UseProtoNames: true, EmitUnpopulated: true}.Marshal(msg)
}
