package protocol

import (
	"bytes"
	"errors"
	"testing"

	"hashrpc/ident"
	"hashrpc/message"
	"hashrpc/wire"
)

func nativeBytes[T wire.Scalar](t *testing.T, v T) []byte {
	t.Helper()
	b := wire.New(wire.SizeOf(v))
	if err := wire.Put(b, v); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

func TestCallFunctionLayout(t *testing.T) {
	id := ident.Of("add")
	packet, err := CallFunction(id, float32(3), float32(4))
	if err != nil {
		t.Fatal(err)
	}

	var want []byte
	want = append(want, 0)
	want = append(want, nativeBytes(t, uint64(id))...)
	want = append(want, nativeBytes(t, float32(3))...)
	want = append(want, nativeBytes(t, float32(4))...)

	if !bytes.Equal(packet.Bytes(), want) {
		t.Fatalf("packet = %x, want %x", packet.Bytes(), want)
	}
	if packet.Len() != packet.Cap() {
		t.Fatalf("packet must be sized exactly: len %d cap %d", packet.Len(), packet.Cap())
	}
}

func TestDecodeRequest(t *testing.T) {
	packet, err := CallMethod(ident.Of("Counter.Add"), ident.Of("c1"), int64(5))
	if err != nil {
		t.Fatal(err)
	}

	req, err := DecodeRequest(packet)
	if err != nil {
		t.Fatal(err)
	}
	if req.Op != message.OpCallMethod {
		t.Fatalf("expect call_method, got %s", req.Op)
	}
	if req.ID != ident.Of("Counter.Add") || req.Object != ident.Of("c1") {
		t.Fatalf("unexpected identifiers %s %s", req.ID, req.Object)
	}
	v, err := wire.Get[int64](req.Args, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v != 5 || req.Args.Len() != 8 {
		t.Fatalf("expect single int64 argument 5, got %d (%d bytes)", v, req.Args.Len())
	}
}

func TestDecodeRequestOpcodes(t *testing.T) {
	create, err := CreateObject(ident.Of("Counter"), ident.Of("c1"), int64(0))
	if err != nil {
		t.Fatal(err)
	}
	req, err := DecodeRequest(create)
	if err != nil {
		t.Fatal(err)
	}
	if req.Op != message.OpCreateObject || req.ID != ident.Of("Counter") || req.Object != ident.Of("c1") {
		t.Fatalf("unexpected create request %+v", req)
	}

	destroy, err := DestroyObject(ident.Of("c1"))
	if err != nil {
		t.Fatal(err)
	}
	if destroy.Len() != 9 {
		t.Fatalf("expect 9-byte destroy packet, got %d", destroy.Len())
	}
	req, err = DecodeRequest(destroy)
	if err != nil {
		t.Fatal(err)
	}
	if req.Op != message.OpDestroyObject || req.Object != ident.Of("c1") || !req.Args.Empty() {
		t.Fatalf("unexpected destroy request %+v", req)
	}
}

func TestDecodeRequestMalformed(t *testing.T) {
	cases := map[string][]byte{
		"empty":          {},
		"unknown opcode": {9, 0, 0, 0, 0, 0, 0, 0, 0},
		"short id":       {0, 1, 2, 3},
		"missing object": append([]byte{1}, make([]byte, 8)...),
	}
	for name, raw := range cases {
		if _, err := DecodeRequest(wire.FromBytes(raw)); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: expect ErrMalformed, got %v", name, err)
		}
	}
}

func TestDecodeRequestCopiesArgs(t *testing.T) {
	packet, err := CallFunction(ident.Of("f"), int32(7))
	if err != nil {
		t.Fatal(err)
	}
	req, err := DecodeRequest(packet)
	if err != nil {
		t.Fatal(err)
	}
	packet.Clear()
	if err := wire.Put(packet, int32(99)); err != nil {
		t.Fatal(err)
	}
	if v, _ := wire.Get[int32](req.Args, 0); v != 7 {
		t.Fatalf("request arguments must not alias the receive buffer, got %d", v)
	}
}

func TestWrongIDCount(t *testing.T) {
	if _, err := NewPacket(message.OpCallMethod, []ident.ID{1}); err == nil {
		t.Fatal("expect error for missing object identifier")
	}
}

func TestResponseRoundTrip(t *testing.T) {
	value := wire.New(4)
	if err := wire.Put(value, float32(7)); err != nil {
		t.Fatal(err)
	}
	b, err := EncodeResponse(message.OK(value))
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0}, nativeBytes(t, float32(7))...)
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("response = %x, want %x", b.Bytes(), want)
	}

	resp, err := DecodeResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wire.Get[float32](resp.Value, 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != message.StatusGood || got != 7 {
		t.Fatalf("unexpected response %v %v", resp.Status, got)
	}
}

func TestStatusOnlyResponse(t *testing.T) {
	b, err := EncodeResponse(message.OK(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b.Bytes(), []byte{0}) {
		t.Fatalf("expect single status byte, got %x", b.Bytes())
	}
}

func TestErrorResponse(t *testing.T) {
	b, err := EncodeResponse(message.Fail(message.StatusUnknownFunction, "no such function"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := DecodeResponse(b)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != message.StatusUnknownFunction || resp.Error != "no such function" {
		t.Fatalf("unexpected response %+v", resp)
	}

	bare, err := DecodeResponse(wire.FromBytes([]byte{byte(message.StatusBadRequest)}))
	if err != nil {
		t.Fatal(err)
	}
	if bare.Error != "bad request" {
		t.Fatalf("expect status name as message, got %q", bare.Error)
	}
}
