// Package codegen turns a classified API into its published artifacts:
// the wire schema (.proto), the wrapper catalogue copy, a Go client and
// a canonical JSON manifest.
//
// Every emitter is a pure function of the registry, so the same sources
// always produce byte-identical output.
package codegen
