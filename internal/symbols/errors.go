package symbols

import (
	"errors"
	"fmt"
)

// ErrAlreadyFinalized is returned when a Builder is used after Finalize.
var ErrAlreadyFinalized = errors.New("symbol database already finalized")

// ParseError reports why one source file contributed nothing.
type ParseError struct {
	Component string
	File      string
	Line      int
	Column    int
	Message   string
	Err       error
}

func (e *ParseError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Conflict records a second declaration at an existing ID that did not
// match the first. The first declaration stays authoritative.
type Conflict struct {
	ID        ID
	Kind      Kind
	Name      string
	FirstFile string
	File      string
	Reason    string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s %s: %s (first declared in %s, redeclared in %s)",
		c.Kind, c.Name, c.Reason, c.FirstFile, c.File)
}
