package params

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/emicklei/proto"
)

//go:embed params.proto
var paramsProto []byte

// ProtoFile is the file name the wrapper catalogue is published under.
const ProtoFile = "params.proto"

// Wrapper is one pre-declared scalar wrapper message.
type Wrapper struct {
	Name      string // message name, e.g. "Int32Wire"
	FullName  string // package-qualified name, e.g. "fwrpc.params.Int32Wire"
	Field     string // the single value field
	Primitive string // wire primitive of the value field
	Number    int    // field number of the value field
}

// Catalogue is a parsed wrapper catalogue.
type Catalogue struct {
	Package  string
	wrappers map[string]Wrapper
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalogue
	defaultErr  error
)

// DefaultCatalogue returns the embedded params.proto catalogue.
// The file is parsed once and shared.
func DefaultCatalogue() (*Catalogue, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = ParseCatalogue(bytes.NewReader(paramsProto))
	})
	return defaultCat, defaultErr
}

// ProtoSource returns the embedded params.proto text.
func ProtoSource() []byte {
	return bytes.Clone(paramsProto)
}

// ParseCatalogue parses a wrapper catalogue from proto source. Every
// message must have exactly one field.
func ParseCatalogue(r io.Reader) (*Catalogue, error) {
	def, err := proto.NewParser(r).Parse()
	if err != nil {
		return nil, fmt.Errorf("parsing wrapper catalogue: %w", err)
	}

	cat := &Catalogue{wrappers: make(map[string]Wrapper)}
	var walkErr error

	proto.Walk(def,
		proto.WithPackage(func(p *proto.Package) {
			cat.Package = p.Name
		}),
		proto.WithMessage(func(m *proto.Message) {
			if walkErr != nil {
				return
			}
			var fields []*proto.NormalField
			for _, el := range m.Elements {
				if f, ok := el.(*proto.NormalField); ok {
					fields = append(fields, f)
				}
			}
			if len(fields) != 1 {
				walkErr = fmt.Errorf("wrapper %s: expected exactly one field, found %d", m.Name, len(fields))
				return
			}
			cat.wrappers[m.Name] = Wrapper{
				Name:      m.Name,
				Field:     fields[0].Name,
				Primitive: fields[0].Type,
				Number:    fields[0].Sequence,
			}
		}),
	)
	if walkErr != nil {
		return nil, walkErr
	}

	for name, w := range cat.wrappers {
		if cat.Package != "" {
			w.FullName = cat.Package + "." + name
		} else {
			w.FullName = name
		}
		cat.wrappers[name] = w
	}

	return cat, nil
}

// Wrapper returns the wrapper declared under name.
func (c *Catalogue) Wrapper(name string) (Wrapper, bool) {
	w, ok := c.wrappers[name]
	return w, ok
}

// ForKind returns the wrapper for k by naming convention.
func (c *Catalogue) ForKind(k Kind) (Wrapper, bool) {
	return c.Wrapper(k.WrapperName())
}

// Names returns all wrapper names, sorted.
func (c *Catalogue) Names() []string {
	names := make([]string, 0, len(c.wrappers))
	for n := range c.wrappers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
