package middleware

import (
	"context"
	"time"

	"hashrpc/message"
)

// TimeOutMiddleware answers with StatusTimeout when the handler takes longer than timeout.
//
// A timed-out handler cannot be stopped; it keeps running and its late response is dropped.
// Requests on a connection run in order, so the next request first waits for the abandoned
// handler, again at most timeout, before it starts. The handler built by the returned
// Middleware must serve a single connection.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		var abandoned chan struct{} // closed when the last timed-out handler returns

		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if abandoned != nil {
				select {
				case <-abandoned:
					abandoned = nil
				case <-ctx.Done():
					return message.Fail(message.StatusTimeout, "previous request still running after %s", timeout)
				}
			}

			done := make(chan *message.Response, 1)
			finished := make(chan struct{})
			go func() {
				defer close(finished)
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				abandoned = finished
				return message.Fail(message.StatusTimeout, "%s timed out after %s", req.Op, timeout)
			}
		}
	}
}
