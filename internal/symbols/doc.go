// Package symbols provides the reflection database built from
// attribute-annotated C++ sources.
//
// The package has two phases, modelled as two types:
//
//   - Builder ingests source files per owning component. Each file is
//     parsed with tree-sitter into namespaces, classes, functions,
//     arguments and properties. Type names that cannot be matched yet are
//     kept as Unresolved placeholders. A file that fails to parse is
//     logged and omitted; ingestion continues.
//   - Database is returned by Builder.Finalize, which runs the one
//     resolution pass: every Unresolved type or base class is looked up by
//     walking the declaring scope outwards. Whatever still does not match
//     stays Unresolved; that is a legitimate terminal state.
//
// Entities never point at each other. Every entity is stored in an arena
// keyed by its ID, a CRC32 of its canonical scope path, and refers to its
// parent and children by ID only. Identical paths parsed from different
// files therefore collide on purpose and merge; an inconsistent second
// declaration is logged and recorded as a Conflict, and the first one wins.
package symbols
