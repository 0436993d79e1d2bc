// Package middleware composes RPC handlers.
//
// A Middleware wraps the next HandlerFunc in the chain. Chains are folded
// once, when a registry is sealed, and reused for every call:
//
//	Chain(m1, m2, m3)(h) == m1(m2(m3(h)))
//
// so m1 runs first on the way in and last on the way out. A middleware
// that returns without calling next short-circuits the rest of the chain.
package middleware

import (
	"context"

	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// HandlerFunc is one step of an RPC chain. args is the bound argument value,
// or args.Empty for methods without a schema.
type HandlerFunc func(ctx context.Context, sa *smartapp.SmartApp, args any) (message.Response, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type methodKey struct{}

// WithMethod stores the name of the method being dispatched in ctx.
func WithMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, methodKey{}, method)
}

// MethodFrom returns the method name stored by WithMethod.
func MethodFrom(ctx context.Context) string {
	m, _ := ctx.Value(methodKey{}).(string)
	return m
}
