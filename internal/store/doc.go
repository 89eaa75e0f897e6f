// Package store provides the SQLite-backed layout lock.
//
// Firmware that has shipped keeps answering on the handler IDs it was
// built with, so a regenerated API must not move them. The lock records
// generation runs (one row per recorded run, with the compatibility and
// manifest hashes) and layout entries: the handler ID or event index of
// every endpoint and event, keyed by domain and name.
//
// Runs are ordered by their seq column, never by wall time, so the history
// reads the same on every machine.
//
// The database runs in WAL mode with synchronous=NORMAL and foreign keys
// on. Its user_version tracks the schema; Open migrates older locks in
// place.
package store
