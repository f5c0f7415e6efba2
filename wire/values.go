package wire

import (
	"fmt"
	"math"
	"unsafe"
)

// SizeOf reports the wire width of a scalar.
func SizeOf[T Scalar](v T) int { return int(unsafe.Sizeof(v)) }

// SliceSize reports the wire width of a sequence, length prefix included.
func SliceSize[T Scalar](s []T) int {
	var zero T
	return LenSize + len(s)*int(unsafe.Sizeof(zero))
}

// StringSize reports the wire width of a string, length prefix included.
func StringSize(s string) int { return LenSize + len(s) }

func rawBytes[T Scalar](p *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), unsafe.Sizeof(*p))
}

// Put appends the native bytes of v.
func Put[T Scalar](b *Buffer, v T) error {
	return b.Write(rawBytes(&v))
}

// Get returns the scalar stored at the absolute offset off. The buffer is not modified.
func Get[T Scalar](b *Buffer, off int) (T, error) {
	var v T
	n := int(unsafe.Sizeof(v))
	if off < 0 || off+n > b.size {
		return v, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, off, b.size)
	}
	if p, ok := any(&v).(*bool); ok {
		*p = b.data[off] != 0
		return v, nil
	}
	copy(rawBytes(&v), b.data[off:off+n])
	return v, nil
}

// Next reads the scalar at *cursor and advances the cursor past it.
func Next[T Scalar](b *Buffer, cursor *int) (T, error) {
	v, err := Get[T](b, *cursor)
	if err != nil {
		return v, err
	}
	*cursor += SizeOf(v)
	return v, nil
}

// PutLen appends a length prefix.
func PutLen(b *Buffer, n int) error {
	return Put(b, uint64(n))
}

// NextLen reads a length prefix and checks that many bytes follow it.
func NextLen(b *Buffer, cursor *int) (int, error) {
	off := *cursor
	n, err := Next[uint64](b, &off)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 || uint64(b.size-off) < n {
		return 0, fmt.Errorf("%w: %d bytes declared, %d remain", ErrMalformed, n, b.size-off)
	}
	*cursor = off
	return int(n), nil
}

// PutSlice appends [byte length][elements] for a sequence of scalars.
func PutSlice[T Scalar](b *Buffer, s []T) error {
	if err := b.reserve(SliceSize(s)); err != nil {
		return err
	}
	var zero T
	n := len(s) * int(unsafe.Sizeof(zero))
	if err := PutLen(b, n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return b.Write(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), n))
}

// NextSlice reads a sequence written by PutSlice and advances the cursor.
func NextSlice[T Scalar](b *Buffer, cursor *int) ([]T, error) {
	off := *cursor
	n, err := NextLen(b, &off)
	if err != nil {
		return nil, err
	}
	var zero T
	width := int(unsafe.Sizeof(zero))
	if n%width != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of element width %d", ErrMalformed, n, width)
	}
	out := make([]T, n/width)
	raw := b.data[off : off+n]
	if bs, ok := any(out).([]bool); ok {
		for i := range bs {
			bs[i] = raw[i] != 0
		}
	} else if n > 0 {
		copy(unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), n), raw)
	}
	*cursor = off + n
	return out, nil
}

// PutString appends [byte length][bytes].
func PutString(b *Buffer, s string) error {
	if err := b.reserve(StringSize(s)); err != nil {
		return err
	}
	if err := PutLen(b, len(s)); err != nil {
		return err
	}
	return b.Write([]byte(s))
}

// NextString reads a string written by PutString and advances the cursor.
func NextString(b *Buffer, cursor *int) (string, error) {
	off := *cursor
	n, err := NextLen(b, &off)
	if err != nil {
		return "", err
	}
	s := string(b.data[off : off+n])
	*cursor = off + n
	return s, nil
}
