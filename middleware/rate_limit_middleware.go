package middleware

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"hashrpc/ident"
	"hashrpc/message"
)

// DefaultRateLimitTargets bounds how many per-target buckets TargetRateLimitMiddleware keeps.
const DefaultRateLimitTargets = 1024

// RateLimitMiddleware rejects requests beyond a token bucket of r requests per second with
// the given burst. The bucket is shared by every connection the middleware is applied to.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.Fail(message.StatusRateLimited, "rate limit of %g/s exceeded", r)
			}
			return next(ctx, req)
		}
	}
}

// TargetRateLimitMiddleware keeps one bucket per call target: the function for
// call_function, the object for every other opcode. One hot object or function is throttled
// without starving the rest. Buckets of the least recently used targets are dropped once more
// than DefaultRateLimitTargets are tracked.
func TargetRateLimitMiddleware(r float64, burst int) Middleware {
	buckets, err := lru.New(DefaultRateLimitTargets)
	if err != nil {
		panic(err)
	}
	var mu sync.Mutex
	limiterFor := func(target ident.ID) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if v, ok := buckets.Get(target); ok {
			return v.(*rate.Limiter)
		}
		l := rate.NewLimiter(rate.Limit(r), burst)
		buckets.Add(target, l)
		return l
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			target := req.Object
			if req.Op == message.OpCallFunction {
				target = req.ID
			}
			if !limiterFor(target).Allow() {
				return message.Fail(message.StatusRateLimited, "rate limit of %g/s exceeded for %s", r, target)
			}
			return next(ctx, req)
		}
	}
}
