package rpc

import (
	"context"
	"errors"
	"runtime/debug"
	"slices"
	"sort"

	"go.uber.org/zap"

	"smartapp-rpc/args"
	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/middleware"
	"smartapp-rpc/smartapp"
)

// Registry is a sealed, read-only set of methods. It is safe for
// concurrent use.
type Registry struct {
	methods map[string]*sealedMethod
	names   []string
	logger  *zap.Logger
}

type sealedMethod struct {
	desc  *MethodDescriptor
	chain middleware.HandlerFunc
}

func newRegistry(methods map[string]*MethodDescriptor, global []middleware.Middleware) *Registry {
	reg := &Registry{
		methods: make(map[string]*sealedMethod, len(methods)),
		names:   make([]string, 0, len(methods)),
		logger:  zap.L(),
	}
	for name, d := range methods {
		d = d.clone()
		all := concat(global, d.Middlewares)
		reg.methods[name] = &sealedMethod{
			desc:  d,
			chain: middleware.Chain(all...)(middleware.Adapt(d.Handler)),
		}
		reg.names = append(reg.names, name)
	}
	sort.Strings(reg.names)
	return reg
}

// Dispatch runs one request and always returns a response.
//
//  1. unknown method → METHOD_NOT_FOUND
//  2. arguments declared → bind; failure → one error per invalid field
//  3. no arguments declared → args.Empty
//  4. run the composed chain
//
// A panic while binding arguments, and errors and panics that escape the
// chain when no exception middleware was installed, become an internal
// error response.
func (r *Registry) Dispatch(ctx context.Context, sa *smartapp.SmartApp, req message.Request) (resp message.Response) {
	m, ok := r.methods[req.Method]
	if !ok {
		return message.MethodNotFound(req.Method)
	}

	defer func() {
		if rec := recover(); rec != nil {
			resp = r.contain(req.Method, &exception.PanicError{Value: rec, Stack: debug.Stack()})
		}
	}()

	var bound any = args.Empty
	if m.desc.Arguments != nil {
		params := req.Params
		if params == nil {
			params = map[string]any{}
		}
		v, err := m.desc.Arguments.Bind(params)
		if err != nil {
			var verr *args.ValidationError
			if errors.As(err, &verr) {
				return message.InvalidArguments(verr.Errors)
			}
			return r.contain(req.Method, err)
		}
		bound = v
	}

	resp, err := m.chain(middleware.WithMethod(ctx, req.Method), sa, bound)
	if err != nil {
		return r.contain(req.Method, err)
	}
	if resp == nil {
		return r.contain(req.Method, exception.ErrNilResponse)
	}
	return resp
}

func (r *Registry) contain(method string, err error) message.Response {
	id := exception.ID(err)
	r.logger.Error("rpc chain returned an error", zap.String("method", method), zap.String("error_id", id), zap.Error(err))
	return message.InternalError(id)
}

// Lookup returns a copy of the descriptor registered under name.
func (r *Registry) Lookup(name string) (MethodDescriptor, bool) {
	m, ok := r.methods[name]
	if !ok {
		return MethodDescriptor{}, false
	}
	return *m.desc.clone(), true
}

// MethodNames returns all method names, hidden ones included, sorted.
func (r *Registry) MethodNames() []string { return slices.Clone(r.names) }

// Len returns the number of methods.
func (r *Registry) Len() int { return len(r.names) }
