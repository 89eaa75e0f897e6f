// Package dto decides how types cross the wire.
//
// A Registry is built from a finalized symbols.Database. Every class that
// must be serialized is registered under exactly one Variant and gets one
// Message schema with stable field numbers and a static size bound.
// Classes with private or static data are carried by a generated <Name>Dto
// mirror of their public fields.
// Scalar payloads use the closed wrapper catalogue from package params;
// wrappers are never synthesized.
package dto
