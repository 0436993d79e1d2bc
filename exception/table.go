package exception

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartapp-rpc/message"
	"smartapp-rpc/smartapp"
)

// Handler turns a failure into an error response. A handler that itself
// fails triggers Fallback.
type Handler func(ctx context.Context, err error, sa *smartapp.SmartApp) (*message.ErrorResponse, error)

// Handlers maps kinds to user handlers.
type Handlers map[*Kind]Handler

// Table resolves errors to handlers by walking the error kind's ancestor
// chain. It is read-only after construction.
type Table struct {
	handlers map[*Kind]Handler
}

// NewTable returns a table seeded with DefaultHandler for Base and
// RPCErrorHandler for RPCError, then overlaid with user.
func NewTable(logger *zap.Logger, user Handlers) *Table {
	t := &Table{handlers: make(map[*Kind]Handler, len(user)+2)}
	t.handlers[Base] = DefaultHandler(logger)
	t.handlers[RPCError] = RPCErrorHandler
	for k, h := range user {
		if k == nil || h == nil {
			continue
		}
		t.handlers[k] = h
	}
	return t
}

// Resolve returns the handler registered for the most specific kind in
// err's chain, together with that kind.
func (t *Table) Resolve(err error) (Handler, *Kind) {
	for _, k := range KindOf(err).chain {
		if h, ok := t.handlers[k]; ok {
			return h, k
		}
	}
	// Base is always seeded; only a zero Table gets here.
	return DefaultHandler(zap.NewNop()), Base
}

// Len returns the number of registered kinds.
func (t *Table) Len() int { return len(t.handlers) }

// Handle resolves and runs the handler for err. A failing handler, or one
// that returns no response, is contained by Fallback.
func (t *Table) Handle(ctx context.Context, err error, sa *smartapp.SmartApp, logger *zap.Logger) (resp *message.ErrorResponse) {
	h, _ := t.Resolve(err)
	defer func() {
		if r := recover(); r != nil {
			resp = Fallback(logger, err, &PanicError{Value: r})
		}
	}()
	resp, herr := h(ctx, err, sa)
	if herr != nil {
		return Fallback(logger, err, herr)
	}
	if resp == nil {
		return Fallback(logger, err, ErrNilResponse)
	}
	return resp
}

// DefaultHandler logs err and returns an internal error response whose id
// is the upper-cased type name of err.
func DefaultHandler(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, err error, sa *smartapp.SmartApp) (*message.ErrorResponse, error) {
		id := ID(err)
		fields := []zap.Field{zap.Error(err), zap.String("error_id", id)}
		if sa != nil {
			fields = append(fields, zap.Stringer("bot_id", sa.BotID), zap.Stringer("chat_id", sa.ChatID))
		}
		var p *PanicError
		if errors.As(err, &p) && len(p.Stack) > 0 {
			fields = append(fields, zap.ByteString("stack", p.Stack))
		}
		logger.Error("unhandled rpc method error", fields...)
		return message.InternalError(id), nil
	}
}

// RPCErrorHandler returns the error's details verbatim.
func RPCErrorHandler(_ context.Context, err error, _ *smartapp.SmartApp) (*message.ErrorResponse, error) {
	var dc DetailCarrier
	if !errors.As(err, &dc) {
		return nil, fmt.Errorf("exception: %T carries no error details", err)
	}
	return message.NewError(dc.ErrorDetails()...), nil
}

// Fallback is the last line of defense when an error handler fails. The
// response id names the original error, not the handler's.
func Fallback(logger *zap.Logger, original, handlerErr error) *message.ErrorResponse {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := ID(original)
	logger.Error("rpc error handler failed",
		zap.NamedError("original", original),
		zap.NamedError("handler_error", handlerErr),
		zap.String("error_id", id),
	)
	return message.InternalError(id)
}
