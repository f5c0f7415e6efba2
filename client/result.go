package client

import (
	"fmt"

	"hashrpc/codec"
	"hashrpc/wire"
)

// Result holds the encoded return value of a call. The wire carries no type information, so
// the caller decodes it as the type the handler returns.
type Result struct {
	value  *wire.Buffer
	cursor int
}

// Empty reports whether the call returned no value. A nil Result is empty.
func (r *Result) Empty() bool {
	return r == nil || r.value.Empty()
}

// Bytes returns the raw encoded value.
func (r *Result) Bytes() []byte {
	if r.Empty() {
		return nil
	}
	return r.value.Bytes()
}

// Scan decodes consecutive values into the pointers dst, continuing where the previous Scan
// stopped.
func (r *Result) Scan(dst ...any) error {
	if r.Empty() {
		return fmt.Errorf("client: scan of empty result")
	}
	for i, d := range dst {
		if err := codec.DecodeValue(r.value, &r.cursor, d); err != nil {
			return fmt.Errorf("client: scan value %d: %w", i, err)
		}
	}
	return nil
}

// As decodes a result of type T. It is shaped to wrap a call directly:
//
//	n, err := client.As[int64](c.CallMethod(ctx, "Counter.Value", "c1"))
func As[T any](r *Result, err error) (T, error) {
	var v T
	if err != nil {
		return v, err
	}
	if err := r.Scan(&v); err != nil {
		return v, err
	}
	return v, nil
}
