package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// Logging logs every call with its method, duration and outcome. A call
// that panics is logged before the panic reaches the exception middleware.
func Logging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (resp message.Response, err error) {
			start := time.Now()
			callFields := func() []zap.Field {
				f := []zap.Field{
					zap.String("method", MethodFrom(ctx)),
					zap.Duration("duration", time.Since(start)),
				}
				if sa != nil {
					f = append(f, zap.Stringer("chat_id", sa.ChatID))
				}
				return f
			}
			returned := false
			defer func() {
				// The panic keeps unwinding to the exception middleware.
				if !returned {
					logger.Error("rpc call panicked", callFields()...)
				}
			}()
			resp, err = next(ctx, sa, a)
			returned = true

			fields := callFields()
			switch {
			case err != nil:
				logger.Warn("rpc call failed", append(fields, zap.Error(err))...)
			case resp == nil:
				logger.Warn("rpc call returned no response", fields...)
			default:
				fields = append(fields, zap.String("status", string(resp.Status())))
				if er, ok := resp.(*message.ErrorResponse); ok {
					fields = append(fields, zap.Strings("error_ids", er.IDs()))
				}
				logger.Info("rpc call", fields...)
			}
			return resp, err
		}
	}
}
