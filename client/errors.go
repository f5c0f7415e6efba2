package client

import (
	"errors"
	"fmt"

	"hashrpc/message"
)

var (
	// ErrConnection reports a connection that could not be established or broke mid-call.
	ErrConnection = errors.New("connection failure")
	// ErrBadRequest matches statuses blaming the request: malformed packet, wrong arguments,
	// method called on the wrong object type.
	ErrBadRequest = errors.New("bad request")
	// ErrNotFound matches statuses for unregistered identifiers and missing objects.
	ErrNotFound = errors.New("not found")
	// ErrRemote matches the remaining failures raised on the server.
	ErrRemote = errors.New("remote failure")
	ErrClosed = errors.New("client closed")
)

// StatusError is a non-good response.
type StatusError struct {
	Status  message.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" || e.Message == e.Status.String() {
		return fmt.Sprintf("rpc: %s", e.Status)
	}
	return fmt.Sprintf("rpc: %s: %s", e.Status, e.Message)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrBadRequest:
		return e.Status == message.StatusBadRequest || e.Status == message.StatusTypeMismatch
	case ErrNotFound:
		switch e.Status {
		case message.StatusUnknownFunction, message.StatusUnknownType,
			message.StatusUnknownMethod, message.StatusUnknownObject:
			return true
		}
	case ErrRemote:
		switch e.Status {
		case message.StatusHandlerError, message.StatusInternal,
			message.StatusTimeout, message.StatusRateLimited:
			return true
		}
	}
	return false
}
