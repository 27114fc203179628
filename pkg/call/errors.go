package call

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes call errors.
type ErrorKind string

const (
	ErrPermission ErrorKind = "permission_error"
	ErrDevice     ErrorKind = "device_error"
	ErrConnection ErrorKind = "connection_error"
	ErrProtocol   ErrorKind = "protocol_error"
	ErrPlayback   ErrorKind = "playback_error"
	ErrServer     ErrorKind = "server_error"
)

// Error is a classified call failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewPermissionError reports a denied capture device.
func NewPermissionError(message string, err error) *Error {
	return &Error{Kind: ErrPermission, Message: message, Err: err}
}

// NewDeviceError reports a missing or unusable capture device.
func NewDeviceError(message string, err error) *Error {
	return &Error{Kind: ErrDevice, Message: message, Err: err}
}

// NewConnectionError reports a socket that failed to open or errored.
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: ErrConnection, Message: message, Err: err}
}

// NewProtocolError reports a malformed inbound frame.
func NewProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrProtocol, Message: message, Err: err}
}

// NewPlaybackError reports a segment that failed to decode or play.
func NewPlaybackError(message string, err error) *Error {
	return &Error{Kind: ErrPlayback, Message: message, Err: err}
}

// NewServerError wraps an explicit error event sent by the remote service.
func NewServerError(message string) *Error {
	return &Error{Kind: ErrServer, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var callErr *Error
	if errors.As(err, &callErr) && callErr != nil {
		return callErr.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries a call error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}
