package codec

import (
	"errors"
	"reflect"
	"testing"

	"hashrpc/wire"
)

type Tree struct {
	Height float32
	Radius float32
	Age    uint64
	Leaves uint64
}

type Labeled struct {
	Name   string
	Points []int32
	Tags   []string
	Grid   [2][2]int8
	OK     bool
}

type hidden struct {
	A int
	b int
}

func encodeAll(t *testing.T, args ...any) *wire.Buffer {
	t.Helper()
	n, err := SizeOfValues(args...)
	if err != nil {
		t.Fatalf("SizeOfValues failed: %v", err)
	}
	b := wire.New(n)
	if err := EncodeValues(b, args...); err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	if b.Len() != n {
		t.Fatalf("EncodeValues wrote %d bytes, SizeOfValues said %d", b.Len(), n)
	}
	return b
}

func TestFixedStructRoundTrip(t *testing.T) {
	in := Tree{Height: 12.5, Radius: 0.75, Age: 40, Leaves: 100000}
	b := encodeAll(t, in)
	if b.Len() != 24 {
		t.Fatalf("expect 24 bytes without padding, got %d", b.Len())
	}

	cursor := 0
	out, err := DecodeAs[Tree](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestNestedRoundTrip(t *testing.T) {
	in := Labeled{
		Name:   "oak",
		Points: []int32{1, -2, 3},
		Tags:   []string{"tall", "", "old"},
		Grid:   [2][2]int8{{1, 2}, {3, 4}},
		OK:     true,
	}
	b := encodeAll(t, in, "trailer")

	cursor := 0
	out, err := DecodeAs[Labeled](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("got %+v, want %+v", out, in)
	}
	trailer, err := DecodeAs[string](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	if trailer != "trailer" {
		t.Fatalf("expect trailer after struct, got %q", trailer)
	}
}

func TestArgumentSequence(t *testing.T) {
	b := encodeAll(t, float32(3), float32(4), []byte("xyz"), int(-1), uint16(9))

	cursor := 0
	types := []reflect.Type{
		reflect.TypeOf(float32(0)),
		reflect.TypeOf(float32(0)),
		reflect.TypeOf([]byte(nil)),
		reflect.TypeOf(int(0)),
		reflect.TypeOf(uint16(0)),
	}
	var got []any
	for _, typ := range types {
		v, err := Decode(b, &cursor, typ)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v.Interface())
	}
	want := []any{float32(3), float32(4), []byte("xyz"), int(-1), uint16(9)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if cursor != b.Len() {
		t.Fatalf("cursor %d, buffer %d", cursor, b.Len())
	}
}

func TestNamedTypes(t *testing.T) {
	type Celsius float64
	type Names []string
	type Level byte
	b := encodeAll(t, Celsius(21.5), Names{"a", "b"}, []Level{1, 2, 3})

	cursor := 0
	c, err := DecodeAs[Celsius](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	n, err := DecodeAs[Names](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	levels, err := DecodeAs[[]Level](b, &cursor)
	if err != nil {
		t.Fatal(err)
	}
	if c != 21.5 || !reflect.DeepEqual(n, Names{"a", "b"}) || !reflect.DeepEqual(levels, []Level{1, 2, 3}) {
		t.Fatalf("got %v %v %v", c, n, levels)
	}
	if cursor != b.Len() {
		t.Fatalf("expect all %d bytes consumed, got %d", b.Len(), cursor)
	}
}

func TestCheckRejects(t *testing.T) {
	cases := []any{
		map[string]int{},
		new(int),
		make(chan int),
		func() {},
		hidden{},
		[]map[int]int{},
	}
	for _, c := range cases {
		if err := Check(reflect.TypeOf(c)); !errors.Is(err, ErrUnsupported) {
			t.Errorf("Check(%T): expect ErrUnsupported, got %v", c, err)
		}
	}
	if _, err := SizeOfValues(nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expect ErrUnsupported for nil argument, got %v", err)
	}
}

func TestEncodeOverflowWritesNothing(t *testing.T) {
	b := wire.New(10)
	err := Encode(b, reflect.ValueOf(Tree{}))
	if !errors.Is(err, wire.ErrOverflow) {
		t.Fatalf("expect ErrOverflow, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expect nothing written, got %d bytes", b.Len())
	}
}

func TestDecodeTruncated(t *testing.T) {
	full := encodeAll(t, Labeled{Name: "x", Points: []int32{1, 2}})
	short := wire.FromBytes(full.Bytes()[:full.Len()-3])

	cursor := 0
	if _, err := DecodeAs[Labeled](short, &cursor); err == nil {
		t.Fatal("expect error decoding truncated buffer")
	}
	if cursor != 0 {
		t.Fatalf("cursor must stay put on error, got %d", cursor)
	}
}

func TestDecodeValueNeedsPointer(t *testing.T) {
	b := encodeAll(t, int32(1))
	cursor := 0
	var x int32
	if err := DecodeValue(b, &cursor, x); err == nil {
		t.Fatal("expect error for non-pointer destination")
	}
}
