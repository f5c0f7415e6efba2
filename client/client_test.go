package client

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"hashrpc/loadbalance"
	"hashrpc/message"
	"hashrpc/registry"
	"hashrpc/server"
	"hashrpc/transport"
)

type Point struct {
	X, Y float64
}

type Counter struct {
	n int64
}

func NewCounter(start int64) *Counter { return &Counter{n: start} }

func (c *Counter) Increment()   { c.n++ }
func (c *Counter) Value() int64 { return c.n }

func startServer(t testing.TB, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	svr := server.NewServer(opts...)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(svr.RegisterFunction("add", func(a, b float32) float32 { return a + b }))
	must(svr.RegisterFunction("concat", func(a, b string) string { return a + b }))
	must(svr.RegisterFunction("noop", func() {}))
	must(svr.RegisterFunction("fail", func() error { return errors.New("boom") }))
	must(svr.RegisterFunction("sleep", func(ms int32) { time.Sleep(time.Duration(ms) * time.Millisecond) }))
	if _, err := svr.RegisterClass("Counter", NewCounter); err != nil {
		t.Fatal(err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return svr, l.Addr().String()
}

func dial(t *testing.T, addr string, opts ...Option) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCallFunction(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	ctx := context.Background()

	sum, err := As[float32](c.CallFunction(ctx, "add", float32(3), float32(4)))
	if err != nil {
		t.Fatal(err)
	}
	if sum != 7 {
		t.Fatalf("expect 7, got %v", sum)
	}

	s, err := As[string](c.CallFunction(ctx, "concat", "Hello", ", world"))
	if err != nil || s != "Hello, world" {
		t.Fatalf("concat: got %q, %v", s, err)
	}
}

func TestEmptyResult(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	ctx := context.Background()

	res, err := c.CallFunction(ctx, "noop")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Empty() {
		t.Fatalf("expect empty result, got %v", res.Bytes())
	}
	if err := res.Scan(new(int32)); err == nil {
		t.Fatal("scan of empty result must fail")
	}
}

func TestScanStruct(t *testing.T) {
	svr, addr := startServer(t)
	if err := svr.RegisterFunction("mid2", func(a, b Point) Point {
		return Point{(a.X + b.X) / 2, (a.Y + b.Y) / 2}
	}); err != nil {
		t.Fatal(err)
	}
	c := dial(t, addr)

	res, err := c.CallFunction(context.Background(), "mid2", Point{0, 0}, Point{2, 4})
	if err != nil {
		t.Fatal(err)
	}
	var p Point
	if err := res.Scan(&p); err != nil {
		t.Fatal(err)
	}
	if p != (Point{1, 2}) {
		t.Fatalf("expect {1 2}, got %+v", p)
	}
}

func TestObjectLifecycle(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	ctx := context.Background()

	if err := c.CreateObject(ctx, "Counter", "c1", int64(0)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		res, err := c.CallMethod(ctx, "Counter.Increment", "c1")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Empty() {
			t.Fatal("Increment returns nothing")
		}
	}
	n, err := As[int64](c.CallMethod(ctx, "Counter.Value", "c1"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expect 2, got %d", n)
	}

	if err := c.DestroyObject(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.CallMethod(ctx, "Counter.Value", "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expect ErrNotFound after destroy, got %v", err)
	}
}

func TestStatusErrors(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	ctx := context.Background()

	_, err := c.CallFunction(ctx, "missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != message.StatusUnknownFunction {
		t.Fatalf("expect unknown function status, got %v", err)
	}
	if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadRequest) {
		t.Fatalf("unknown function must only match ErrNotFound: %v", err)
	}

	if _, err := c.CallFunction(ctx, "add", float32(1)); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing argument: expect ErrBadRequest, got %v", err)
	}

	_, err = c.CallFunction(ctx, "fail")
	if !errors.Is(err, ErrRemote) || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expect remote handler error, got %v", err)
	}

	if err := c.CreateObject(ctx, "Missing", "m"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown type: expect ErrNotFound, got %v", err)
	}

	// the connection survives all of the above
	if _, err := As[float32](c.CallFunction(ctx, "add", float32(1), float32(1))); err != nil {
		t.Fatal(err)
	}
}

func TestUnsupportedArgument(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	if _, err := c.CallFunction(context.Background(), "add", map[string]int{}); err == nil {
		t.Fatal("expect encode error for map argument")
	}
}

func TestDialRetryFails(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	start := time.Now()
	_, err = Dial(context.Background(), addr, WithDialRetry(2, 10*time.Millisecond))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expect ErrConnection, got %v", err)
	}
	// 10ms + 20ms of backoff
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expect backoff between attempts, took %s", time.Since(start))
	}
}

func TestDialRetrySucceedsLater(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	svr := server.NewServer()
	svr.RegisterFunction("add", func(a, b float32) float32 { return a + b })
	go func() {
		time.Sleep(50 * time.Millisecond)
		if l, err := net.Listen("tcp", addr); err == nil {
			svr.Serve(l)
		}
	}()
	defer svr.Shutdown(time.Second)

	c, err := Dial(context.Background(), addr, WithDialRetry(6, 20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if sum, err := As[float32](c.CallFunction(context.Background(), "add", float32(1), float32(2))); err != nil || sum != 3 {
		t.Fatalf("expect 3, got %v, %v", sum, err)
	}
}

func TestContextDeadlineBreaksConnection(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.CallFunction(ctx, "sleep", int32(300))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expect ErrConnection on deadline, got %v", err)
	}
	if !strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		t.Fatalf("expect deadline in error, got %v", err)
	}

	if _, err := c.CallFunction(context.Background(), "noop"); !errors.Is(err, ErrConnection) {
		t.Fatalf("expect broken client, got %v", err)
	}
}

func TestCancelledContextDoesNotBreak(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.CallFunction(ctx, "noop"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
	if _, err := c.CallFunction(context.Background(), "noop"); err != nil {
		t.Fatalf("client must stay usable, got %v", err)
	}
}

func TestClosedClient(t *testing.T) {
	_, addr := startServer(t)
	c := dial(t, addr)
	c.Close()
	if _, err := c.CallFunction(context.Background(), "noop"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed, got %v", err)
	}
}

func TestFramedClient(t *testing.T) {
	_, addr := startServer(t, server.WithFraming(transport.FramingFramed), server.WithReceiveBufferSize(256*1024))
	c := dial(t, addr, WithFraming(transport.FramingFramed), WithHeartbeat(10*time.Millisecond), WithReceiveBufferSize(256*1024))
	ctx := context.Background()

	time.Sleep(50 * time.Millisecond)
	big := strings.Repeat("x", 100*1024)
	s, err := As[string](c.CallFunction(ctx, "concat", big, "!"))
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != len(big)+1 {
		t.Fatalf("expect %d bytes, got %d", len(big)+1, len(s))
	}
}

func TestRouter(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	_, addr1 := startServer(t, server.WithDiscovery(reg, "calc", "", 10))
	_, addr2 := startServer(t, server.WithDiscovery(reg, "calc", "", 10), server.WithFraming(transport.FramingFramed))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if instances, _ := reg.Discover("calc"); len(instances) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("servers did not register")
		}
		time.Sleep(10 * time.Millisecond)
	}

	r, err := NewRouter(reg, "calc", &loadbalance.RoundRobinBalancer{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if sum, err := As[float32](r.CallFunction(ctx, "add", float32(i), float32(1))); err != nil || sum != float32(i+1) {
			t.Fatalf("call %d: got %v, %v", i, sum, err)
		}
	}
	r.mu.Lock()
	dialed := len(r.clients)
	r.mu.Unlock()
	if dialed != 2 {
		t.Fatalf("round robin must reach both %s and %s, dialed %d", addr1, addr2, dialed)
	}

	// every object keeps its state wherever it landed
	names := []string{"a", "b", "c", "d", "e", "f"}
	for _, name := range names {
		if err := r.CreateObject(ctx, "Counter", name, int64(10)); err != nil {
			t.Fatal(err)
		}
		if _, err := r.CallMethod(ctx, "Counter.Increment", name); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range names {
		n, err := As[int64](r.CallMethod(ctx, "Counter.Value", name))
		if err != nil || n != 11 {
			t.Fatalf("%s: expect 11, got %d, %v", name, n, err)
		}
		if err := r.DestroyObject(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRouterNoInstances(t *testing.T) {
	r, err := NewRouter(registry.NewMemoryRegistry(), "nothing", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.CallFunction(context.Background(), "add"); !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
	if err := r.CreateObject(context.Background(), "Counter", "x"); !errors.Is(err, loadbalance.ErrNoInstances) {
		t.Fatalf("expect ErrNoInstances, got %v", err)
	}
}
