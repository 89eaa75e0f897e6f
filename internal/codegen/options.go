package codegen

import "github.com/roach88/fwrpc/internal/params"

// Header starts every generated file.
const Header = "Code generated by fwrpc. DO NOT EDIT."

// Options controls generated output.
type Options struct {
	// GoPackage is the package name of the generated Go client.
	GoPackage string

	// GoImport is the import path protoc-gen-go output lives at. When set,
	// both schemas carry a go_package option pointing there.
	GoImport string

	// WireImport is the import path of the runtime packages (pkg/).
	WireImport string

	// ParamsSource is the wrapper catalogue text copied next to the
	// schema. Defaults to the embedded catalogue.
	ParamsSource []byte
}

func (o Options) withDefaults() Options {
	if o.GoPackage == "" {
		o.GoPackage = "devicepb"
	}
	if o.WireImport == "" {
		o.WireImport = "github.com/roach88/fwrpc/pkg"
	}
	if o.ParamsSource == nil {
		o.ParamsSource = params.ProtoSource()
	}
	return o
}
