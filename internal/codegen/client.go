package codegen

import (
	"bytes"
	_ "embed"
	"fmt"
	"go/format"
	"path"
	"text/template"

	"github.com/roach88/fwrpc/internal/api"
	"github.com/roach88/fwrpc/internal/dto"
)

// ClientFile is the file name of the generated Go client.
const ClientFile = "client.go"

//go:embed templates/client.go.tmpl
var clientTemplate string

var clientTmpl = template.Must(template.New("client").Funcs(template.FuncMap{
	"hex": func(v uint32) string { return fmt.Sprintf("0x%08x", v) },
}).Parse(clientTemplate))

type clientData struct {
	Header       string
	Package      string
	Domain       string
	ClientImport string
	Compat       api.Compat
	Endpoints    []endpointData
	Events       []eventData
}

type endpointData struct {
	Name      string
	Method    string
	Const     string
	Shape     string
	Request   string
	Response  string
	ID        uint16
	Signature string
}

type eventData struct {
	Name      string
	Method    string
	Const     string
	Payload   string
	Index     uint16
	Signature string
}

// Client emits the Go client: one method per endpoint, an On/Send pair
// per event and the hash triad as constants.
func Client(reg *api.Registry, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	data := clientData{
		Header:       Header,
		Package:      opts.GoPackage,
		Domain:       reg.Domain,
		ClientImport: path.Join(opts.WireImport, "client"),
		Compat:       reg.Compat,
	}
	for _, ep := range reg.Endpoints {
		method := goName(ep.Name)
		data.Endpoints = append(data.Endpoints, endpointData{
			Name:      ep.Name,
			Method:    method,
			Const:     "Endpoint" + method,
			Shape:     ep.Shape.String(),
			Request:   messageType(ep.Request),
			Response:  messageType(ep.Response),
			ID:        ep.ID,
			Signature: ep.Signature,
		})
	}
	for _, ev := range reg.Events {
		method := goName(ev.Name)
		data.Events = append(data.Events, eventData{
			Name:      ev.Name,
			Method:    method,
			Const:     "Event" + method,
			Payload:   messageType(ev.Request),
			Index:     ev.Index,
			Signature: ev.Signature,
		})
	}

	var buf bytes.Buffer
	if err := clientTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render client: %w", err)
	}
	out, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format client: %w", err)
	}
	return out, nil
}

func messageType(m *dto.Message) string {
	if m == nil {
		return ""
	}
	return goName(m.Name)
}

// goName converts a proto identifier to the Go identifier protoc-gen-go
// gives it: underscores before lower-case letters are dropped and the
// letter upper-cased, other underscores are kept.
func goName(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.' && i+1 < len(s) && isLower(s[i+1]):
		case c == '.':
			b = append(b, '_')
		case c == '_' && (i == 0 || s[i-1] == '.'):
			b = append(b, 'X')
		case c == '_' && i+1 < len(s) && isLower(s[i+1]):
		case isDigit(c):
			b = append(b, c)
		default:
			if isLower(c) {
				c -= 'a' - 'A'
			}
			b = append(b, c)
			for ; i+1 < len(s) && isLower(s[i+1]); i++ {
				b = append(b, s[i+1])
			}
		}
	}
	return string(b)
}

func isLower(c byte) bool { return 'a' <= c && c <= 'z' }
func isDigit(c byte) bool { return '0' <= c && c <= '9' }
