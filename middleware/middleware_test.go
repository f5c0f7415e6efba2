package middleware

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"hashrpc/ident"
	"hashrpc/message"
)

func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.OK(nil)
}

func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	time.Sleep(200 * time.Millisecond)
	return message.OK(nil)
}

func failHandler(ctx context.Context, req *message.Request) *message.Response {
	return message.Fail(message.StatusUnknownFunction, "unknown function %s", req.ID)
}

func addRequest() *message.Request {
	return &message.Request{Op: message.OpCallFunction, ID: ident.Of("add")}
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := LoggingMiddleware(zap.New(core))(echoHandler)

	resp := handler(context.Background(), addRequest())
	if resp == nil || resp.Status != message.StatusGood {
		t.Fatalf("expect good response, got %+v", resp)
	}
	if logs.FilterMessage("request handled").Len() != 1 {
		t.Fatalf("expect one debug entry, got %v", logs.All())
	}

	LoggingMiddleware(zap.New(core))(failHandler)(context.Background(), addRequest())
	failed := logs.FilterMessage("request failed").All()
	if len(failed) != 1 || failed[0].Level != zap.WarnLevel {
		t.Fatalf("expect one warn entry, got %v", failed)
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), addRequest())
	if resp.Status != message.StatusGood {
		t.Fatalf("expect no error, got %s", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), addRequest())
	if resp.Status != message.StatusTimeout {
		t.Fatalf("expect timeout status, got %s", resp.Status)
	}
}

func TestTimeoutWaitsForAbandonedHandler(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	blocking := func(ctx context.Context, req *message.Request) *message.Response {
		if calls.Add(1) == 1 {
			<-release
		}
		return message.OK(nil)
	}
	handler := TimeOutMiddleware(50 * time.Millisecond)(blocking)

	if resp := handler(context.Background(), addRequest()); resp.Status != message.StatusTimeout {
		t.Fatalf("expect timeout status, got %s", resp.Status)
	}
	// the first handler still runs, the second must not start next to it
	if resp := handler(context.Background(), addRequest()); resp.Status != message.StatusTimeout {
		t.Fatalf("expect timeout while the first handler runs, got %s", resp.Status)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expect 1 handler started, got %d", n)
	}

	close(release)
	if resp := handler(context.Background(), addRequest()); resp.Status != message.StatusGood {
		t.Fatalf("expect good response once the first handler returned, got %s", resp.Status)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), addRequest())
		if resp.Status != message.StatusGood {
			t.Fatalf("request %d should pass, got %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), addRequest())
	if resp.Status != message.StatusRateLimited {
		t.Fatalf("request 3 should be rate limited, got %s", resp.Status)
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	chained := Chain(mark("a"), LoggingMiddleware(zap.NewNop()), mark("b"), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), addRequest())
	if resp == nil || resp.Status != message.StatusGood {
		t.Fatalf("expect good response, got %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect outer-to-inner order [a b], got %v", order)
	}
}

func TestTargetRateLimit(t *testing.T) {
	handler := TargetRateLimitMiddleware(1, 1)(echoHandler)
	ctx := context.Background()

	if resp := handler(ctx, addRequest()); resp.Status != message.StatusGood {
		t.Fatalf("first add should pass, got %s", resp.Error)
	}
	if resp := handler(ctx, addRequest()); resp.Status != message.StatusRateLimited {
		t.Fatalf("second add should be rate limited, got %s", resp.Status)
	}

	// other targets have their own bucket
	sub := &message.Request{Op: message.OpCallFunction, ID: ident.Of("sub")}
	if resp := handler(ctx, sub); resp.Status != message.StatusGood {
		t.Fatalf("sub should pass, got %s", resp.Error)
	}
	for _, name := range []string{"c1", "c2"} {
		req := &message.Request{Op: message.OpCallMethod, ID: ident.Of("Counter.Increment"), Object: ident.Of(name)}
		if resp := handler(ctx, req); resp.Status != message.StatusGood {
			t.Fatalf("method on %s should pass, got %s", name, resp.Error)
		}
	}
}
