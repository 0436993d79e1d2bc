package rpc

import (
	"slices"

	"smartapp-rpc/args"
	"smartapp-rpc/message"
	"smartapp-rpc/middleware"
)

// Option configures a Router or a single method. Returns and Arguments
// only apply to methods.
type Option func(*options)

type options struct {
	middlewares  []middleware.Middleware
	errors       []message.DeclaredError
	tags         []string
	hidden       bool
	responseType string
	arguments    args.Binder
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMiddlewares appends middlewares. On a router they wrap every method
// registered on or included into it.
func WithMiddlewares(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithErrors declares application errors a method may return.
func WithErrors(errs ...message.DeclaredError) Option {
	return func(o *options) { o.errors = append(o.errors, errs...) }
}

// WithTags attaches catalog tags.
func WithTags(tags ...string) Option {
	return func(o *options) { o.tags = append(o.tags, tags...) }
}

// Hidden keeps methods out of the catalog. They are still callable.
func Hidden() Option {
	return func(o *options) { o.hidden = true }
}

// Returns names the result type of a method for the catalog.
func Returns(typeName string) Option {
	return func(o *options) { o.responseType = typeName }
}

// Arguments sets the binder of a method registered with Router.Handle.
func Arguments(b args.Binder) Option {
	return func(o *options) { o.arguments = b }
}

// mergeErrors returns base with entries overridden by ID from override.
// Entries new in override are appended in order.
func mergeErrors(base, override []message.DeclaredError) []message.DeclaredError {
	out := slices.Clone(base)
	for _, e := range override {
		i := slices.IndexFunc(out, func(x message.DeclaredError) bool { return x.ID == e.ID })
		if i >= 0 {
			out[i] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
