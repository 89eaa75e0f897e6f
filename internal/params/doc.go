// Package params holds the closed scalar parameter catalogue shared by the
// firmware and every generated client.
//
// The catalogue is versioned and fixed: it is not derived from parsed
// source. Each Kind maps to one wire primitive with a known maximum encoded
// size, and to one pre-declared wrapper message in params.proto. Wrapper
// messages are never generated; a missing wrapper is a hard error for
// whoever asked for it.
package params
