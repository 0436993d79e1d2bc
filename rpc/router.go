// Package rpc is the SmartApp RPC dispatch core.
//
// Methods are registered on Routers, routers are merged, and the result is
// sealed into an immutable Registry:
//
//	r := rpc.NewRouter(rpc.WithTags("billing"))
//	rpc.Register(r, "sum", sumSchema, sum)
//	r.HandleNoArgs("ping", ping)
//	reg := r.Seal()
//
// Sealing composes one middleware chain per method. Dispatch only looks the
// method up, binds its arguments and runs the chain:
//
//	lookup → bind args → global mws → router mws → method mws → adapter → handler
//
// SmartAppRPC puts the exception middleware in front of all of that, so
// every event ends in exactly one response envelope.
package rpc

import (
	"context"
	"slices"
	"sort"

	"smartapp-rpc/args"
	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/middleware"
	"smartapp-rpc/smartapp"
)

// MethodDescriptor is everything known about a registered method.
type MethodDescriptor struct {
	Name    string
	Handler middleware.Handler

	// Middlewares run outermost first, after the global ones.
	Middlewares []middleware.Middleware

	// Arguments is nil for methods without an argument schema.
	Arguments    args.Binder
	ResponseType string
	Errors       []message.DeclaredError
	Tags         []string
	Hidden       bool
}

func (d *MethodDescriptor) clone() *MethodDescriptor {
	c := *d
	c.Middlewares = slices.Clone(d.Middlewares)
	c.Errors = slices.Clone(d.Errors)
	c.Tags = slices.Clone(d.Tags)
	return &c
}

// Router collects methods. It is not safe for concurrent use and becomes
// read-only once sealed.
type Router struct {
	methods map[string]*MethodDescriptor
	order   []string
	own     options

	sealed *Registry
}

// NewRouter returns an empty router. WithMiddlewares, WithErrors, WithTags
// and Hidden given here apply to every method of the router.
func NewRouter(opts ...Option) *Router {
	return &Router{
		methods: make(map[string]*MethodDescriptor),
		own:     applyOptions(opts),
	}
}

// Handle registers h under name.
func (r *Router) Handle(name string, h middleware.Handler, opts ...Option) error {
	if r.sealed != nil {
		return ErrSealed
	}
	if _, ok := r.methods[name]; ok {
		return &DuplicateMethodError{Names: []string{name}}
	}
	if h.IsZero() {
		return exception.Newf(exception.ValueError, "rpc: method %q has no handler", name)
	}
	o := applyOptions(opts)
	r.methods[name] = &MethodDescriptor{
		Name:         name,
		Handler:      h,
		Middlewares:  concat(r.own.middlewares, o.middlewares),
		Arguments:    o.arguments,
		ResponseType: o.responseType,
		Errors:       mergeErrors(r.own.errors, o.errors),
		Tags:         concat(r.own.tags, o.tags),
		Hidden:       r.own.hidden || o.hidden,
	}
	r.order = append(r.order, name)
	return nil
}

// HandleNoArgs registers a method that takes no arguments.
func (r *Router) HandleNoArgs(name string, fn func(ctx context.Context, sa *smartapp.SmartApp) (message.Response, error), opts ...Option) error {
	return r.Handle(name, middleware.HandlerNoArgs(fn), opts...)
}

// Register registers a method whose params are bound by schema.
func Register[A any](r *Router, name string, schema *args.Schema[A], fn func(ctx context.Context, sa *smartapp.SmartApp, a A) (message.Response, error), opts ...Option) error {
	if schema == nil {
		return exception.Newf(exception.ValueError, "rpc: method %q has no argument schema", name)
	}
	h := middleware.HandlerWithArgs(func(ctx context.Context, sa *smartapp.SmartApp, a any) (message.Response, error) {
		v, ok := a.(A)
		if !ok {
			return nil, exception.Newf(exception.TypeError, "method %q: unexpected arguments %T", name, a)
		}
		return fn(ctx, sa, v)
	})
	return r.Handle(name, h, append(slices.Clip(opts), Arguments(schema))...)
}

// MustRegister is Register that panics on error, for package-level setup.
func MustRegister[A any](r *Router, name string, schema *args.Schema[A], fn func(ctx context.Context, sa *smartapp.SmartApp, a A) (message.Response, error), opts ...Option) {
	if err := Register(r, name, schema, fn, opts...); err != nil {
		panic(err)
	}
}

// Include merges the methods of others into r. Included methods get r's
// middlewares in front of their own, r's declared errors under their own,
// and r's tags in front of their own; hidden routers hide what they include.
// Descriptors are copied, so others are left untouched.
//
// If any name collides, with r or between others, nothing is merged and the
// returned *DuplicateMethodError lists every colliding name.
func (r *Router) Include(others ...*Router) error {
	if r.sealed != nil {
		return ErrSealed
	}

	seen := make(map[string]bool, len(r.methods))
	for name := range r.methods {
		seen[name] = true
	}
	dups := map[string]bool{}
	for _, o := range others {
		for _, name := range o.order {
			if seen[name] {
				dups[name] = true
			}
			seen[name] = true
		}
	}
	if len(dups) > 0 {
		names := make([]string, 0, len(dups))
		for name := range dups {
			names = append(names, name)
		}
		sort.Strings(names)
		return &DuplicateMethodError{Names: names}
	}

	for _, o := range others {
		for _, name := range o.order {
			d := o.methods[name].clone()
			d.Middlewares = concat(r.own.middlewares, d.Middlewares)
			d.Errors = mergeErrors(r.own.errors, d.Errors)
			d.Tags = concat(r.own.tags, d.Tags)
			d.Hidden = d.Hidden || r.own.hidden
			r.methods[name] = d
			r.order = append(r.order, name)
		}
	}
	return nil
}

// Len returns the number of registered methods.
func (r *Router) Len() int { return len(r.methods) }

// Seal freezes r and composes the chain of every method as
//
//	global... → method middlewares... → adapter → handler
//
// Calling Seal again returns the registry built by the first call.
func (r *Router) Seal(global ...middleware.Middleware) *Registry {
	if r.sealed != nil {
		return r.sealed
	}
	r.sealed = newRegistry(r.methods, global)
	return r.sealed
}
