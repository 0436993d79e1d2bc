package middleware

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// Exceptions converts errors and panics escaping next into error responses
// using table. It must be the outermost middleware; after it, a chain never
// returns an error.
func Exceptions(table *exception.Table, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.L()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, sa *smartapp.SmartApp, a any) (resp message.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = table.Handle(ctx, &exception.PanicError{Value: r, Stack: debug.Stack()}, sa, logger), nil
				}
			}()
			resp, err = next(ctx, sa, a)
			if err != nil {
				return table.Handle(ctx, err, sa, logger), nil
			}
			if isNil(resp) {
				return table.Handle(ctx, exception.ErrNilResponse, sa, logger), nil
			}
			return resp, nil
		}
	}
}
