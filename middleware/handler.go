package middleware

import (
	"context"

	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// Shape says whether a handler takes bound arguments.
type Shape int

const (
	NoArgs Shape = iota
	WithArgs
)

func (s Shape) String() string {
	if s == WithArgs {
		return "with-args"
	}
	return "no-args"
}

// Handler is a user handler together with its call shape.
type Handler struct {
	shape    Shape
	withArgs HandlerFunc
	noArgs   func(ctx context.Context, sa *smartapp.SmartApp) (message.Response, error)
}

// HandlerWithArgs wraps a handler that receives the bound arguments.
func HandlerWithArgs(fn HandlerFunc) Handler {
	return Handler{shape: WithArgs, withArgs: fn}
}

// HandlerNoArgs wraps a handler that only needs the SmartApp.
func HandlerNoArgs(fn func(ctx context.Context, sa *smartapp.SmartApp) (message.Response, error)) Handler {
	return Handler{shape: NoArgs, noArgs: fn}
}

func (h Handler) Shape() Shape { return h.shape }

// IsZero reports whether h wraps no function.
func (h Handler) IsZero() bool { return h.withArgs == nil && h.noArgs == nil }

// Adapt returns the terminal HandlerFunc for h. The shape is resolved here,
// once, not per call. A handler returning neither a response nor an error
// yields exception.ErrNilResponse.
func Adapt(h Handler) HandlerFunc {
	var call HandlerFunc
	switch h.shape {
	case WithArgs:
		call = h.withArgs
	default:
		fn := h.noArgs
		call = func(ctx context.Context, sa *smartapp.SmartApp, _ any) (message.Response, error) {
			return fn(ctx, sa)
		}
	}
	return func(ctx context.Context, sa *smartapp.SmartApp, a any) (message.Response, error) {
		resp, err := call(ctx, sa, a)
		if err != nil {
			return nil, err
		}
		if isNil(resp) {
			return nil, exception.ErrNilResponse
		}
		return resp, nil
	}
}

// isNil catches typed nils such as (*message.ResultResponse)(nil).
func isNil(resp message.Response) bool {
	switch r := resp.(type) {
	case nil:
		return true
	case *message.ResultResponse:
		return r == nil
	case *message.ErrorResponse:
		return r == nil
	}
	return false
}
