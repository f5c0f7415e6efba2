package dispatch

import (
	"errors"

	"hashrpc/message"
)

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnknownType     = errors.New("unknown type")
	ErrUnknownMethod   = errors.New("unknown method")
	ErrUnknownObject   = errors.New("unknown object")
	ErrTypeMismatch    = errors.New("object type mismatch")
	ErrBadArguments    = errors.New("bad arguments")
	ErrHandler         = errors.New("handler failed")
	ErrPanic           = errors.New("handler panicked")
)

// StatusOf maps a dispatch error onto the status byte sent back to the client.
func StatusOf(err error) message.Status {
	switch {
	case err == nil:
		return message.StatusGood
	case errors.Is(err, ErrUnknownFunction):
		return message.StatusUnknownFunction
	case errors.Is(err, ErrUnknownType):
		return message.StatusUnknownType
	case errors.Is(err, ErrUnknownMethod):
		return message.StatusUnknownMethod
	case errors.Is(err, ErrUnknownObject):
		return message.StatusUnknownObject
	case errors.Is(err, ErrTypeMismatch):
		return message.StatusTypeMismatch
	case errors.Is(err, ErrBadArguments):
		return message.StatusBadRequest
	case errors.Is(err, ErrHandler):
		return message.StatusHandlerError
	}
	return message.StatusInternal
}
