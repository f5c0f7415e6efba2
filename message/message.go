// Package message defines the decoded request and response envelopes that flow between the
// server loop, the middleware chain and the dispatcher.
//
// The packet codec (package protocol) turns bytes into a Request and a Response into bytes;
// everything in between works on these structs.
package message

import (
	"fmt"

	"hashrpc/ident"
	"hashrpc/wire"
)

// Opcode is the one-byte tag at the front of every request packet.
type Opcode uint8

const (
	OpCallFunction  Opcode = 0 // [func_id][args...]
	OpCallMethod    Opcode = 1 // [method_id][object_id][args...]
	OpCreateObject  Opcode = 2 // [type_id][object_id][ctor_args...]
	OpDestroyObject Opcode = 3 // [object_id]
)

func (op Opcode) String() string {
	switch op {
	case OpCallFunction:
		return "call_function"
	case OpCallMethod:
		return "call_method"
	case OpCreateObject:
		return "create_object"
	case OpDestroyObject:
		return "destroy_object"
	}
	return fmt.Sprintf("opcode(%d)", uint8(op))
}

// IDCount is the number of identifiers following the opcode, or -1 for an unknown opcode.
func (op Opcode) IDCount() int {
	switch op {
	case OpCallFunction, OpDestroyObject:
		return 1
	case OpCallMethod, OpCreateObject:
		return 2
	}
	return -1
}

// Status is the first byte of every response.
type Status uint8

const (
	StatusGood Status = iota
	StatusBadRequest
	StatusUnknownFunction
	StatusUnknownType
	StatusUnknownMethod
	StatusUnknownObject
	StatusTypeMismatch
	StatusHandlerError
	StatusInternal
	StatusTimeout
	StatusRateLimited
)

var statusNames = [...]string{
	StatusGood:            "good",
	StatusBadRequest:      "bad request",
	StatusUnknownFunction: "unknown function",
	StatusUnknownType:     "unknown type",
	StatusUnknownMethod:   "unknown method",
	StatusUnknownObject:   "unknown object",
	StatusTypeMismatch:    "type mismatch",
	StatusHandlerError:    "handler error",
	StatusInternal:        "internal error",
	StatusTimeout:         "timeout",
	StatusRateLimited:     "rate limited",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Request is a decoded request packet.
//
//   - OpCallFunction:  ID is the function.
//   - OpCallMethod:    ID is the method, Object the instance.
//   - OpCreateObject:  ID is the type, Object the new instance name.
//   - OpDestroyObject: Object is the instance.
type Request struct {
	Op     Opcode
	ID     ident.ID
	Object ident.ID
	Args   *wire.Buffer // argument bytes only, opcode and identifiers already consumed
}

// Response is the outcome of handling one Request.
//
//   - Status good: Value holds the encoded return value (may be empty).
//   - Otherwise:   Error describes the failure and Value is unused.
type Response struct {
	Status Status
	Value  *wire.Buffer
	Error  string
}

// Fail builds a failed response.
func Fail(status Status, format string, args ...any) *Response {
	return &Response{Status: status, Error: fmt.Sprintf(format, args...)}
}

// OK builds a successful response around an encoded value, which may be nil.
func OK(value *wire.Buffer) *Response {
	return &Response{Status: StatusGood, Value: value}
}
