// Package codec encodes Go values into wire buffers and decodes them back, driven only by
// reflect.Type.
//
// No type tags travel on the wire. The receiving side must already know the exact shape of
// what it decodes, which it learns from the signature of the registered handler:
//
//	bool, intN, uintN, int, uint, floatN   native bytes (see package wire)
//	string, []T                            [byte length:uint64][elements...]
//	[N]T, struct{ exported fields }        elements / fields back to back, no prefix
package codec

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"hashrpc/wire"
)

var ErrUnsupported = errors.New("codec: unsupported type")

// Check reports whether values of type t can travel on the wire.
func Check(t reflect.Type) error {
	return check(t, make(map[reflect.Type]bool))
}

func check(t reflect.Type, seen map[reflect.Type]bool) error {
	if isScalar(t.Kind()) || t.Kind() == reflect.String {
		return nil
	}
	if seen[t] {
		return nil
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if err := check(t.Elem(), seen); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		return nil
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return fmt.Errorf("%w: %s has unexported field %s", ErrUnsupported, t, f.Name)
			}
			if err := check(f.Type, seen); err != nil {
				return fmt.Errorf("%s.%s: %w", t, f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// scalarWidth is the native size of a scalar kind.
func scalarWidth(k reflect.Kind) int {
	switch k {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		return 8
	case reflect.Int, reflect.Uint:
		return int(unsafe.Sizeof(int(0)))
	}
	return 0
}

// Size is the number of bytes Encode writes for v.
func Size(v reflect.Value) int {
	k := v.Kind()
	switch {
	case isScalar(k):
		return scalarWidth(k)
	case k == reflect.String:
		return wire.LenSize + v.Len()
	case k == reflect.Slice:
		return wire.LenSize + elementsSize(v)
	case k == reflect.Array:
		return elementsSize(v)
	case k == reflect.Struct:
		n := 0
		for i := 0; i < v.NumField(); i++ {
			n += Size(v.Field(i))
		}
		return n
	}
	return 0
}

func elementsSize(v reflect.Value) int {
	if ek := v.Type().Elem().Kind(); isScalar(ek) {
		return v.Len() * scalarWidth(ek)
	}
	n := 0
	for i := 0; i < v.Len(); i++ {
		n += Size(v.Index(i))
	}
	return n
}

// Encode appends v to b. Nothing is written if v does not fit.
func Encode(b *wire.Buffer, v reflect.Value) error {
	if n := Size(v); b.Len()+n > b.Cap() {
		return fmt.Errorf("%w: %s needs %d bytes, %d free", wire.ErrOverflow, v.Type(), n, b.Cap()-b.Len())
	}
	return encode(b, v)
}

func encode(b *wire.Buffer, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		return wire.Put(b, v.Bool())
	case reflect.Int8:
		return wire.Put(b, int8(v.Int()))
	case reflect.Int16:
		return wire.Put(b, int16(v.Int()))
	case reflect.Int32:
		return wire.Put(b, int32(v.Int()))
	case reflect.Int64:
		return wire.Put(b, v.Int())
	case reflect.Int:
		return wire.Put(b, int(v.Int()))
	case reflect.Uint8:
		return wire.Put(b, uint8(v.Uint()))
	case reflect.Uint16:
		return wire.Put(b, uint16(v.Uint()))
	case reflect.Uint32:
		return wire.Put(b, uint32(v.Uint()))
	case reflect.Uint64:
		return wire.Put(b, v.Uint())
	case reflect.Uint:
		return wire.Put(b, uint(v.Uint()))
	case reflect.Float32:
		return wire.Put(b, float32(v.Float()))
	case reflect.Float64:
		return wire.Put(b, v.Float())
	case reflect.String:
		return wire.PutString(b, v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			if err := wire.PutLen(b, v.Len()); err != nil {
				return err
			}
			return b.Write(v.Bytes())
		}
		if err := wire.PutLen(b, elementsSize(v)); err != nil {
			return err
		}
		return encodeElements(b, v)
	case reflect.Array:
		return encodeElements(b, v)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := encode(b, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
}

func encodeElements(b *wire.Buffer, v reflect.Value) error {
	for i := 0; i < v.Len(); i++ {
		if err := encode(b, v.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a value of type t at *cursor and advances the cursor past it.
// On error the cursor is left where it was.
func Decode(b *wire.Buffer, cursor *int, t reflect.Type) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	off := *cursor
	if err := decode(b, &off, v); err != nil {
		return reflect.Value{}, fmt.Errorf("decode %s: %w", t, err)
	}
	*cursor = off
	return v, nil
}

func decode(b *wire.Buffer, cursor *int, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Bool:
		x, err := wire.Next[bool](b, cursor)
		v.SetBool(x)
		return err
	case reflect.Int8:
		x, err := wire.Next[int8](b, cursor)
		v.SetInt(int64(x))
		return err
	case reflect.Int16:
		x, err := wire.Next[int16](b, cursor)
		v.SetInt(int64(x))
		return err
	case reflect.Int32:
		x, err := wire.Next[int32](b, cursor)
		v.SetInt(int64(x))
		return err
	case reflect.Int64:
		x, err := wire.Next[int64](b, cursor)
		v.SetInt(x)
		return err
	case reflect.Int:
		x, err := wire.Next[int](b, cursor)
		v.SetInt(int64(x))
		return err
	case reflect.Uint8:
		x, err := wire.Next[uint8](b, cursor)
		v.SetUint(uint64(x))
		return err
	case reflect.Uint16:
		x, err := wire.Next[uint16](b, cursor)
		v.SetUint(uint64(x))
		return err
	case reflect.Uint32:
		x, err := wire.Next[uint32](b, cursor)
		v.SetUint(uint64(x))
		return err
	case reflect.Uint64:
		x, err := wire.Next[uint64](b, cursor)
		v.SetUint(x)
		return err
	case reflect.Uint:
		x, err := wire.Next[uint](b, cursor)
		v.SetUint(uint64(x))
		return err
	case reflect.Float32:
		x, err := wire.Next[float32](b, cursor)
		v.SetFloat(float64(x))
		return err
	case reflect.Float64:
		x, err := wire.Next[float64](b, cursor)
		v.SetFloat(x)
		return err
	case reflect.String:
		s, err := wire.NextString(b, cursor)
		v.SetString(s)
		return err
	case reflect.Slice:
		return decodeSlice(b, cursor, v)
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := decode(b, cursor, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := decode(b, cursor, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
}

func decodeSlice(b *wire.Buffer, cursor *int, v reflect.Value) error {
	off := *cursor
	n, err := wire.NextLen(b, &off)
	if err != nil {
		return err
	}
	end := off + n
	t := v.Type()
	ek := t.Elem().Kind()

	switch {
	case ek == reflect.Uint8:
		p, err := b.ReadBytes(off, n)
		if err != nil {
			return err
		}
		// SetBytes accepts named byte element types, reflect.Copy does not
		s := reflect.New(t).Elem()
		s.SetBytes(p)
		v.Set(s)
	case isScalar(ek):
		w := scalarWidth(ek)
		if n%w != 0 {
			return fmt.Errorf("%w: %d bytes is not a multiple of %s width %d", wire.ErrMalformed, n, t.Elem(), w)
		}
		s := reflect.MakeSlice(t, n/w, n/w)
		for i := 0; i < s.Len(); i++ {
			if err := decode(b, &off, s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	default:
		s := reflect.MakeSlice(t, 0, 0)
		for off < end {
			e := reflect.New(t.Elem()).Elem()
			start := off
			if err := decode(b, &off, e); err != nil {
				return err
			}
			if off == start {
				return fmt.Errorf("%w: zero-width %s elements", wire.ErrMalformed, t.Elem())
			}
			s = reflect.Append(s, e)
		}
		if off != end {
			return fmt.Errorf("%w: %s elements overran %d declared bytes", wire.ErrMalformed, t.Elem(), n)
		}
		v.Set(s)
	}
	*cursor = end
	return nil
}
