package codec

import (
	"fmt"
	"reflect"

	"hashrpc/wire"
)

// SizeOfValues validates args and returns their total wire width.
func SizeOfValues(args ...any) (int, error) {
	n := 0
	for i, a := range args {
		v := reflect.ValueOf(a)
		if !v.IsValid() {
			return 0, fmt.Errorf("%w: argument %d is nil", ErrUnsupported, i)
		}
		if err := Check(v.Type()); err != nil {
			return 0, fmt.Errorf("argument %d: %w", i, err)
		}
		n += Size(v)
	}
	return n, nil
}

// EncodeValues appends args in order. Call SizeOfValues first to validate them.
func EncodeValues(b *wire.Buffer, args ...any) error {
	for i, a := range args {
		if err := Encode(b, reflect.ValueOf(a)); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// DecodeValue decodes into the value dst points to and advances the cursor.
func DecodeValue(b *wire.Buffer, cursor *int, dst any) error {
	p := reflect.ValueOf(dst)
	if p.Kind() != reflect.Pointer || p.IsNil() {
		return fmt.Errorf("codec: decode destination must be a non-nil pointer, got %T", dst)
	}
	t := p.Elem().Type()
	if err := Check(t); err != nil {
		return err
	}
	v, err := Decode(b, cursor, t)
	if err != nil {
		return err
	}
	p.Elem().Set(v)
	return nil
}

// DecodeAs decodes a T at *cursor.
func DecodeAs[T any](b *wire.Buffer, cursor *int) (T, error) {
	var v T
	err := DecodeValue(b, cursor, &v)
	return v, err
}
