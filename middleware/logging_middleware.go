package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hashrpc/message"
)

// LoggingMiddleware logs every request with its duration and outcome.
// Failures are logged at warn level, successes at debug.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.Stringer("op", req.Op),
				zap.Stringer("id", req.ID),
				zap.Duration("duration", time.Since(start)),
				zap.Stringer("status", resp.Status),
			}
			if req.Op != message.OpCallFunction {
				fields = append(fields, zap.Stringer("object", req.Object))
			}
			if resp.Status != message.StatusGood {
				logger.Warn("request failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("request handled", fields...)
			return resp
		}
	}
}
