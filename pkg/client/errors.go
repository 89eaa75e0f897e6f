package client

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by calls on a client that was closed.
	ErrClosed = errors.New("client closed")

	// ErrRequestIDsExhausted means every request ID is either awaiting a
	// reply or held by a recently cancelled call.
	ErrRequestIDsExhausted = errors.New("request ids exhausted")
)

// RemoteError is an ERROR reply from the device.
type RemoteError struct {
	// Handler is the endpoint that was called.
	Handler uint16

	// Code is the device error code, carried in the reply's handler field.
	Code uint16

	Payload []byte
}

func (e *RemoteError) Error() string {
	if len(e.Payload) == 0 {
		return fmt.Sprintf("remote error %d from handler %d", e.Code, e.Handler)
	}
	return fmt.Sprintf("remote error %d from handler %d: %q", e.Code, e.Handler, e.Payload)
}

// IsRemoteError reports whether err is an ERROR reply, returning it.
func IsRemoteError(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
