package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/middleware"
	"smartapp-rpc/smartapp"
)

// AppOption configures a SmartAppRPC.
type AppOption func(*appConfig)

type appConfig struct {
	middlewares []middleware.Middleware
	handlers    exception.Handlers
	logger      *zap.Logger
}

// WithGlobalMiddlewares adds middlewares that wrap every method, right
// after the exception middleware.
func WithGlobalMiddlewares(mws ...middleware.Middleware) AppOption {
	return func(c *appConfig) { c.middlewares = append(c.middlewares, mws...) }
}

// WithExceptionHandlers registers handlers by error kind. They override the
// built-in handlers for the same kind.
func WithExceptionHandlers(h exception.Handlers) AppOption {
	return func(c *appConfig) {
		if c.handlers == nil {
			c.handlers = exception.Handlers{}
		}
		for k, fn := range h {
			c.handlers[k] = fn
		}
	}
}

// WithLogger sets the logger used for contained failures.
func WithLogger(l *zap.Logger) AppOption {
	return func(c *appConfig) { c.logger = l }
}

// SmartAppRPC turns SmartApp events into RPC calls and their responses.
type SmartAppRPC struct {
	registry *Registry
	table    *exception.Table
	logger   *zap.Logger
}

// New merges routers and seals them. The exception middleware always runs
// first, followed by the global middlewares in the given order.
func New(routers []*Router, opts ...AppOption) (*SmartAppRPC, error) {
	cfg := appConfig{logger: zap.L()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	root := NewRouter()
	if err := root.Include(routers...); err != nil {
		return nil, fmt.Errorf("rpc: merge routers: %w", err)
	}

	table := exception.NewTable(cfg.logger, cfg.handlers)
	global := make([]middleware.Middleware, 0, len(cfg.middlewares)+1)
	global = append(global, middleware.Exceptions(table, cfg.logger))
	global = append(global, cfg.middlewares...)

	reg := root.Seal(global...)
	reg.logger = cfg.logger
	return &SmartAppRPC{registry: reg, table: table, logger: cfg.logger}, nil
}

// HandleSyncSmartAppEvent runs the RPC call carried by event and returns
// its response.
func (a *SmartAppRPC) HandleSyncSmartAppEvent(ctx context.Context, event *smartapp.Event, bot smartapp.Bot) message.Response {
	req, errResp := message.DecodeRequest(event.Data)
	if errResp != nil {
		return errResp
	}
	return a.registry.Dispatch(ctx, smartapp.FromEvent(bot, event), req)
}

// HandleSmartAppEvent runs the RPC call carried by event and sends the
// response back through bot. The returned error is the bot's.
func (a *SmartAppRPC) HandleSmartAppEvent(ctx context.Context, event *smartapp.Event, bot smartapp.Bot) error {
	resp := a.HandleSyncSmartAppEvent(ctx, event, bot)
	out, err := OutgoingEvent(event, resp)
	if err != nil {
		a.logger.Error("rpc response is not encodable", zap.Error(err))
		if out, err = OutgoingEvent(event, message.InternalError(exception.ID(errors.Unwrap(err)))); err != nil {
			return err
		}
	}
	if err := bot.SendSmartAppEvent(ctx, out); err != nil {
		return fmt.Errorf("rpc: send response: %w", err)
	}
	return nil
}

// OutgoingEvent builds the reply to event carrying resp.
func OutgoingEvent(event *smartapp.Event, resp message.Response) (*smartapp.OutgoingEvent, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode response: %w", err)
	}
	ref := event.Ref
	return &smartapp.OutgoingEvent{
		BotID:     event.BotID,
		ChatID:    event.ChatID,
		Ref:       &ref,
		Data:      data,
		Files:     resp.Attachments(),
		Encrypted: resp.IsEncrypted(),
	}, nil
}

// Call dispatches method with params outside of any inbound event, for
// example from tooling or tests.
func (a *SmartAppRPC) Call(ctx context.Context, sa *smartapp.SmartApp, method string, params map[string]any) message.Response {
	return a.registry.Dispatch(ctx, sa, message.NewRequest(method, params))
}

// MethodNames lists every registered method, sorted.
func (a *SmartAppRPC) MethodNames() []string { return a.registry.MethodNames() }

// Registry returns the sealed registry.
func (a *SmartAppRPC) Registry() *Registry { return a.registry }
