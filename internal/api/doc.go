// Package api classifies annotated functions into endpoints, events,
// responders and sinks.
//
// Build walks a finalized symbols.Database, validates every function that
// carries an rpc:: attribute, binds request and response messages through
// a dto.Registry, assigns endpoint IDs (reserved block first) and computes
// the compatibility hash triad. Every problem is collected; nothing
// annotated is dropped silently.
package api
