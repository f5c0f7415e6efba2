// Package protocol implements the hashrpc packet codec.
//
// Request packets (all integers host byte order):
//
//	┌────────┬──────────┬──────────┬──────────────┐
//	│ opcode │ id:u64   │ [id:u64] │ arguments... │
//	│   u8   │          │          │              │
//	└────────┴──────────┴──────────┴──────────────┘
//	call_function  (0): func_id
//	call_method    (1): method_id, object_id
//	create_object  (2): type_id, object_id
//	destroy_object (3): object_id
//
// Response packets:
//
//	[status:u8][return value...]          status == good
//	[status:u8][len:u64][message bytes]   any other status
//
// Packets carry no type tags and no overall length. The receiver learns the argument shape
// from the handler registered under the identifier.
package protocol

import (
	"errors"
	"fmt"

	"hashrpc/codec"
	"hashrpc/ident"
	"hashrpc/message"
	"hashrpc/wire"
)

var ErrMalformed = errors.New("protocol: malformed packet")

// OpcodeSize is the width of the opcode and of the status byte.
const OpcodeSize = 1

// NewPacket sizes a buffer for the opcode, identifiers and arguments up front and writes them
// in order.
func NewPacket(op message.Opcode, ids []ident.ID, args ...any) (*wire.Buffer, error) {
	if n := op.IDCount(); n != len(ids) {
		return nil, fmt.Errorf("protocol: %s takes %d identifiers, got %d", op, n, len(ids))
	}
	argSize, err := codec.SizeOfValues(args...)
	if err != nil {
		return nil, err
	}

	b := wire.New(OpcodeSize + len(ids)*ident.Size + argSize)
	if err := wire.Put(b, uint8(op)); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := wire.Put(b, uint64(id)); err != nil {
			return nil, err
		}
	}
	if err := codec.EncodeValues(b, args...); err != nil {
		return nil, err
	}
	return b, nil
}

func CallFunction(fn ident.ID, args ...any) (*wire.Buffer, error) {
	return NewPacket(message.OpCallFunction, []ident.ID{fn}, args...)
}

func CallMethod(method, object ident.ID, args ...any) (*wire.Buffer, error) {
	return NewPacket(message.OpCallMethod, []ident.ID{method, object}, args...)
}

func CreateObject(typ, object ident.ID, args ...any) (*wire.Buffer, error) {
	return NewPacket(message.OpCreateObject, []ident.ID{typ, object}, args...)
}

func DestroyObject(object ident.ID) (*wire.Buffer, error) {
	return NewPacket(message.OpDestroyObject, []ident.ID{object})
}

// DecodeOpcode reads and strips the leading opcode.
func DecodeOpcode(b *wire.Buffer) (message.Opcode, error) {
	op, err := wire.Get[uint8](b, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: missing opcode", ErrMalformed)
	}
	b.ConsumePrefix(OpcodeSize)
	return message.Opcode(op), nil
}

// DecodeID reads and strips a leading identifier.
func DecodeID(b *wire.Buffer) (ident.ID, error) {
	id, err := wire.Get[uint64](b, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: truncated identifier", ErrMalformed)
	}
	b.ConsumePrefix(ident.Size)
	return ident.ID(id), nil
}

// DecodeRequest strips the opcode and identifiers from b. The remaining argument bytes are
// copied into Request.Args so b can be reused for the next receive.
func DecodeRequest(b *wire.Buffer) (*message.Request, error) {
	op, err := DecodeOpcode(b)
	if err != nil {
		return nil, err
	}
	n := op.IDCount()
	if n < 0 {
		return nil, fmt.Errorf("%w: unknown opcode %d", ErrMalformed, uint8(op))
	}

	ids := make([]ident.ID, n)
	for i := range ids {
		if ids[i], err = DecodeID(b); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	req := &message.Request{Op: op, Args: wire.FromBytes(b.Bytes())}
	switch op {
	case message.OpCallFunction:
		req.ID = ids[0]
	case message.OpDestroyObject:
		req.Object = ids[0]
	default:
		req.ID, req.Object = ids[0], ids[1]
	}
	return req, nil
}
