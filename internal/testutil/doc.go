// Package testutil holds fixtures shared by tests that need a whole
// project on disk: the reserved header, a project writer and a registry
// builder.
package testutil
