package obsws

import (
	"errors"
	"fmt"
)

// ErrConnectTimeout is returned when the handshake does not finish in time.
var ErrConnectTimeout = errors.New("connect timeout")

// ErrConnectRefused is returned when the endpoint rejects the connection.
var ErrConnectRefused = errors.New("connect refused")

// ErrAuthRejected is returned when the endpoint rejects the password.
var ErrAuthRejected = errors.New("authentication rejected")

// ErrNotConnected is returned when a command is issued outside the Identified state.
var ErrNotConnected = errors.New("not connected")

// ErrTimeout is returned when no reply arrives within the command timeout.
var ErrTimeout = errors.New("request timeout")

// ErrClosed is returned by Open on a session that was already closed.
var ErrClosed = errors.New("session closed")

// RemoteError is an error reply from the controlled instance.
type RemoteError struct {
	RequestType string
	Code        int
	Message     string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with code %d", e.RequestType, e.Code)
	}
	return fmt.Sprintf("%s failed with code %d: %s", e.RequestType, e.Code, e.Message)
}
