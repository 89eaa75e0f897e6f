package api

import (
	"fmt"
	"strings"
)

// Validation error codes (E200-E299)
const (
	ErrReturnType        = "E201" // return type not allowed for the category
	ErrArgumentShape     = "E202" // non-trailing argument is not a const reference
	ErrOutputNotAllowed  = "E203" // events and responders take no output
	ErrMissingReserved   = "E204" // reserved endpoint not found
	ErrResponderNoEvent  = "E205" // responder names no event
	ErrUnknownEvent      = "E206" // responder names an unknown event
	ErrSinkSignature     = "E207" // sink is not (buffer*, length)
	ErrClassification    = "E208" // unknown or multiple rpc:: attributes
	ErrDuplicateName     = "E209" // exported name used twice
	ErrSerialization     = "E210" // payload type cannot be serialized
	ErrIDOverflow        = "E211" // endpoint ID does not fit in 16 bits
	ErrResponderMismatch = "E212" // responder inputs differ from the event
)

// ValidationError is one classification failure.
type ValidationError struct {
	Function string `json:"function"`
	Message  string `json:"message"`
	Code     string `json:"code"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] %s:%d: %s: %s", e.Code, e.File, e.Line, e.Function, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Function, e.Message)
}

// ValidationErrors is every failure found by Build.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = e.Error()
	}
	return fmt.Sprintf("%d API validation errors:\n  %s", len(errs), strings.Join(lines, "\n  "))
}

// Codes returns the error codes in order, for tests and reports.
func (errs ValidationErrors) Codes() []string {
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	return codes
}

// Has reports whether any error carries code.
func (errs ValidationErrors) Has(code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
