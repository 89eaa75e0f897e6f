package packet

import (
	"errors"
	"fmt"
)

// ErrProtocolViolation matches every ProtocolError via errors.Is.
var ErrProtocolViolation = errors.New("protocol violation")

// ProtocolErrorCode identifies what was wrong with a frame or reply.
type ProtocolErrorCode string

const (
	CodeBadStart        ProtocolErrorCode = "BAD_START"
	CodeBadHeaderEnd    ProtocolErrorCode = "BAD_HEADER_END"
	CodeBadEnd          ProtocolErrorCode = "BAD_END"
	CodeBadCRC          ProtocolErrorCode = "BAD_CRC"
	CodeBadKind         ProtocolErrorCode = "BAD_KIND"
	CodeShortBuffer     ProtocolErrorCode = "SHORT_BUFFER"
	CodeLengthMismatch  ProtocolErrorCode = "LENGTH_MISMATCH"
	CodePayloadTooLarge ProtocolErrorCode = "PAYLOAD_TOO_LARGE"
	CodeUnknownRequest  ProtocolErrorCode = "UNKNOWN_REQUEST"
)

// ProtocolError is a fatal wire protocol violation.
type ProtocolError struct {
	Code    ProtocolErrorCode
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrProtocolViolation, e.Code, e.Message)
}

// Is matches ErrProtocolViolation and any *ProtocolError with the same code.
func (e *ProtocolError) Is(target error) bool {
	if target == ErrProtocolViolation {
		return true
	}
	var pe *ProtocolError
	if errors.As(target, &pe) {
		return pe.Code == e.Code
	}
	return false
}

// Violation builds a ProtocolError.
func Violation(code ProtocolErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HasCode reports whether err is a ProtocolError with code.
func HasCode(err error, code ProtocolErrorCode) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Code == code
}
