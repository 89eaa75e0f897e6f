package dto

import (
	"errors"
	"fmt"
)

// Registry error codes (D300-D399)
const (
	ErrVariantConflict = "D301" // class registered under two variants
	ErrMissingWrapper  = "D302" // no catalogue wrapper for a Param kind
	ErrUnresolvedType  = "D303" // field type is not a class or Param
	ErrNameCollision   = "D304" // two classes map to one message name
	ErrRecursiveType   = "D305" // class contains itself by value
)

// Error is a fatal registration error.
type Error struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

func newError(code, typ, format string, args ...any) *Error {
	return &Error{Code: code, Type: typ, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a registry Error with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
