package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame format used by FramingFramed. Each hashrpc packet becomes one frame body, so packet
// boundaries survive TCP coalescing and splitting:
//
//	0      3  4  5  6         10        14
//	┌──────┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │k │fl│   seq   │ bodyLen │   packet ...  │
//	│ hrp  │01│  │  │ uint32  │ uint32  │ bodyLen bytes │
//	└──────┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// The header is big-endian; the packet inside keeps its host-order encoding.
const (
	MagicNumber byte = 0x68 // 'h'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 14 // 3 (magic) + 1 (version) + 1 (kind) + 1 (flags) + 4 (seq) + 4 (bodyLen)
)

var ErrFrameTooLarge = errors.New("transport: frame larger than receive buffer")

// FrameKind distinguishes packets from keep-alive probes.
type FrameKind byte

const (
	FramePacket    FrameKind = 0
	FrameHeartbeat FrameKind = 1 // no body, never surfaced to callers
)

// Header is the fixed 14-byte frame header.
type Header struct {
	Kind    FrameKind
	Flags   byte
	Seq     uint32 // per-direction packet counter, heartbeats carry 0
	BodyLen uint32
}

// WriteFrame writes header and body with a single Write, so concurrent writers holding the
// connection's write lock never interleave partial frames.
func WriteFrame(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = byte(h.Kind)
	buf[5] = h.Flags
	binary.BigEndian.PutUint32(buf[6:10], h.Seq)
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates one frame header.
func ReadHeader(r io.Reader, buf []byte) (*Header, error) {
	if _, err := io.ReadFull(r, buf[:HeaderSize]); err != nil {
		return nil, err
	}
	if buf[0] != MagicNumber || buf[1] != MagicByte2 || buf[2] != MagicByte3 {
		return nil, fmt.Errorf("invalid magic number: %x", buf[0:3])
	}
	if buf[3] != Version {
		return nil, fmt.Errorf("unsupported version: %d", buf[3])
	}
	kind := FrameKind(buf[4])
	if kind != FramePacket && kind != FrameHeartbeat {
		return nil, fmt.Errorf("unsupported frame kind: %d", kind)
	}
	return &Header{
		Kind:    kind,
		Flags:   buf[5],
		Seq:     binary.BigEndian.Uint32(buf[6:10]),
		BodyLen: binary.BigEndian.Uint32(buf[10:14]),
	}, nil
}

// ReadFrame reads one complete frame into dst. A body longer than dst is discarded and
// reported as ErrFrameTooLarge, leaving the stream positioned at the next frame.
func ReadFrame(r io.Reader, dst []byte) (*Header, int, error) {
	var hb [HeaderSize]byte
	h, err := ReadHeader(r, hb[:])
	if err != nil {
		return nil, 0, err
	}
	n := int(h.BodyLen)
	if n > len(dst) {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, 0, err
		}
		return h, 0, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, len(dst))
	}
	if _, err := io.ReadFull(r, dst[:n]); err != nil {
		return nil, 0, err
	}
	return h, n, nil
}
