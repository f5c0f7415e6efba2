package protocol

import (
	"fmt"

	"hashrpc/message"
	"hashrpc/wire"
)

// EncodeResponse lays out a response packet.
func EncodeResponse(resp *message.Response) (*wire.Buffer, error) {
	if resp.Status != message.StatusGood {
		b := wire.New(OpcodeSize + wire.StringSize(resp.Error))
		if err := wire.Put(b, uint8(resp.Status)); err != nil {
			return nil, err
		}
		if err := wire.PutString(b, resp.Error); err != nil {
			return nil, err
		}
		return b, nil
	}

	n := 0
	if resp.Value != nil {
		n = resp.Value.Len()
	}
	b := wire.New(OpcodeSize + n)
	if err := wire.Put(b, uint8(resp.Status)); err != nil {
		return nil, err
	}
	if err := b.Append(resp.Value); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeResponse parses a response packet. For a good status Value holds the bytes after
// the status byte.
func DecodeResponse(b *wire.Buffer) (*message.Response, error) {
	status, err := wire.Get[uint8](b, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: missing status", ErrMalformed)
	}
	resp := &message.Response{Status: message.Status(status)}
	if resp.Status == message.StatusGood {
		resp.Value = wire.FromBytes(b.Bytes()[OpcodeSize:])
		return resp, nil
	}

	cursor := OpcodeSize
	if resp.Error, err = wire.NextString(b, &cursor); err != nil {
		// a bare status byte is still a valid failure
		resp.Error = resp.Status.String()
	}
	return resp, nil
}
