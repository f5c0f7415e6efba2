// Package wire implements the capacity-bounded byte buffer that every hashrpc packet is
// built in and parsed from.
//
// Two encodings exist and nothing else:
//
//	fixed-size value:     native in-memory bytes (host byte order, no normalization)
//	variable-length value: [length:uint64][raw bytes]   (length counts bytes, not elements)
//
// The buffer never owns a read position. Readers keep their own cursor (an int offset)
// and pass it to Get/Next, which makes one Buffer usable for both building a packet and
// decoding one that was just received.
package wire

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

var (
	ErrOverflow    = errors.New("wire: write exceeds buffer capacity")
	ErrShortBuffer = errors.New("wire: read past end of buffer")
	ErrMalformed   = errors.New("wire: malformed length prefix")
)

// LenSize is the width of the length prefix written before every variable-length value.
const LenSize = 8

// Scalar is the set of fixed-size types written as their native representation.
type Scalar interface {
	constraints.Integer | constraints.Float | ~bool
}

// Buffer is a contiguous byte region with a fixed capacity and a current size.
// The size never exceeds the capacity.
type Buffer struct {
	data []byte // len(data) == capacity
	size int
}

// New allocates a zeroed buffer able to hold capacity bytes.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, capacity)}
}

// FromBytes returns a full buffer holding a copy of p.
func FromBytes(p []byte) *Buffer {
	b := New(len(p))
	copy(b.data, p)
	b.size = len(p)
	return b
}

func (b *Buffer) Len() int      { return b.size }
func (b *Buffer) Cap() int      { return len(b.data) }
func (b *Buffer) Empty() bool   { return b == nil || b.size == 0 }
func (b *Buffer) Bytes() []byte { return b.data[:b.size] }

// Space exposes the whole backing region, used as the destination of a receive.
// Call SetLen with the number of bytes received afterwards.
func (b *Buffer) Space() []byte { return b.data }

// SetLen records n bytes as written.
func (b *Buffer) SetLen(n int) error {
	if n < 0 || n > len(b.data) {
		return fmt.Errorf("%w: size %d, capacity %d", ErrOverflow, n, len(b.data))
	}
	b.size = n
	return nil
}

// Clear resets the size to zero and keeps the allocation.
func (b *Buffer) Clear() { b.size = 0 }

// ConsumePrefix drops the first n bytes, shifting the rest to the front.
func (b *Buffer) ConsumePrefix(n int) {
	if n <= 0 {
		return
	}
	if n >= b.size {
		b.size = 0
		return
	}
	copy(b.data, b.data[n:b.size])
	b.size -= n
}

func (b *Buffer) reserve(n int) error {
	if n < 0 || b.size+n > len(b.data) {
		return fmt.Errorf("%w: have %d of %d bytes, need %d more", ErrOverflow, b.size, len(b.data), n)
	}
	return nil
}

// Write appends p verbatim, without a length prefix.
func (b *Buffer) Write(p []byte) error {
	if err := b.reserve(len(p)); err != nil {
		return err
	}
	b.size += copy(b.data[b.size:], p)
	return nil
}

// Append copies the written bytes of other onto the end of b.
func (b *Buffer) Append(other *Buffer) error {
	if other.Empty() {
		return nil
	}
	return b.Write(other.Bytes())
}

// ReadBytes copies n bytes starting at off into a fresh slice.
func (b *Buffer) ReadBytes(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > b.size {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, off, b.size)
	}
	out := make([]byte, n)
	copy(out, b.data[off:off+n])
	return out, nil
}

// NextBytes reads n raw bytes at *cursor and advances it.
func (b *Buffer) NextBytes(cursor *int, n int) ([]byte, error) {
	out, err := b.ReadBytes(*cursor, n)
	if err != nil {
		return nil, err
	}
	*cursor += n
	return out, nil
}
