package client

import (
	"context"
	"testing"

	"hashrpc/codec"
	"hashrpc/ident"
	"hashrpc/protocol"
)

func benchClient(b *testing.B) *Client {
	b.Helper()
	_, addr := startServer(b)
	c, err := Dial(context.Background(), addr)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { c.Close() })
	return c
}

// single goroutine, one call at a time
func BenchmarkSerialCall(b *testing.B) {
	c := benchClient(b)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := c.CallFunction(ctx, "add", float32(1), float32(2)); err != nil {
			b.Fatal(err)
		}
	}
}

// many goroutines sharing one connection; calls are serialized by the client
func BenchmarkSharedClient(b *testing.B) {
	c := benchClient(b)
	ctx := context.Background()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.CallFunction(ctx, "add", float32(1), float32(2)); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// packet build and parse without the network
func BenchmarkPacketCodec(b *testing.B) {
	id := ident.Of("add")
	p := Point{1, 2}
	for i := 0; i < b.N; i++ {
		packet, _ := protocol.CallFunction(id, p, p)
		req, err := protocol.DecodeRequest(packet)
		if err != nil {
			b.Fatal(err)
		}
		cursor := 0
		if _, err := codec.DecodeAs[Point](req.Args, &cursor); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkIdentifierHash(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = ident.Of("Counter.Increment")
	}
}
