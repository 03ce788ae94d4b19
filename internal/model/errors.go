package model

import (
	"errors"

	"obs-showctl/pkg/obsws"
)

var (
	// ErrNotFound is returned when an instance or stored show does not exist.
	ErrNotFound = errors.New("not found")
	// ErrShowNotFound is returned when a show is not in the in-memory cache.
	ErrShowNotFound = errors.New("show not found")
	// ErrStoreUnavailable wraps driver failures of the configuration store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyExists is returned when creating a show that is already stored.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalid is returned for malformed shows, instances or parameters.
	ErrInvalid = errors.New("invalid argument")
)

// Reason codes reported per target and per instance.
const (
	ReasonNotFound         = "not_found"
	ReasonShowNotFound     = "show_not_found"
	ReasonNotConnected     = "not_connected"
	ReasonConnectTimeout   = "connect_timeout"
	ReasonConnectRefused   = "connect_refused"
	ReasonAuthRejected     = "auth_rejected"
	ReasonRemoteError      = "remote_error"
	ReasonTimeout          = "timeout"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonAlreadyExists    = "already_exists"
	ReasonInvalid          = "invalid"
	ReasonInternal         = "internal"
)

// ErrorCode maps an error to a stable reason code.
func ErrorCode(err error) string {
	var remote *obsws.RemoteError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &remote):
		return ReasonRemoteError
	case errors.Is(err, ErrShowNotFound):
		return ReasonShowNotFound
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, obsws.ErrNotConnected):
		return ReasonNotConnected
	case errors.Is(err, obsws.ErrConnectTimeout):
		return ReasonConnectTimeout
	case errors.Is(err, obsws.ErrConnectRefused):
		return ReasonConnectRefused
	case errors.Is(err, obsws.ErrAuthRejected):
		return ReasonAuthRejected
	case errors.Is(err, obsws.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrStoreUnavailable):
		return ReasonStoreUnavailable
	case errors.Is(err, ErrAlreadyExists):
		return ReasonAlreadyExists
	case errors.Is(err, ErrInvalid):
		return ReasonInvalid
	default:
		return ReasonInternal
	}
}
