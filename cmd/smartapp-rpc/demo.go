package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"smartapp-rpc/args"
	"smartapp-rpc/exception"
	"smartapp-rpc/message"
	"smartapp-rpc/rpc"
	"smartapp-rpc/smartapp"
)

type sumArgs struct {
	First, Second int64
}

var sumSchema = args.NewSchema(func(v args.Values) sumArgs {
	return sumArgs{First: v.Int64("first"), Second: v.Int64("second")}
},
	args.Required("first", args.Int).Describe("left operand"),
	args.Required("second", args.Int).Describe("right operand"),
)

type transferArgs struct {
	To     uuid.UUID
	Amount float64
	Note   string
}

var transferSchema = args.NewSchema(func(v args.Values) transferArgs {
	return transferArgs{To: v.UUID("to"), Amount: v.Float("amount"), Note: v.String("note")}
},
	args.Required("to", args.UUID).As("recipientId"),
	args.Required("amount", args.Float),
	args.WithDefault("note", args.String, func() any { return "" }),
)

type notifyArgs struct {
	Counter int
	Body    string
}

var notifySchema = args.NewSchema(func(v args.Values) notifyArgs {
	return notifyArgs{Counter: v.Int("counter"), Body: v.String("body")}
},
	args.Required("counter", args.Int),
	args.Optional("body", args.String),
)

var (
	errNotEnoughMoney = message.DeclaredError{ID: "NOT_ENOUGH_MONEY", Reason: "Not enough money"}
	errAccountFrozen  = message.DeclaredError{ID: "ACCOUNT_FROZEN", Reason: "Account is frozen"}
)

// errInvalidAmount is raised for non-positive transfers.
var errInvalidAmount = exception.NewKind("InvalidAmount", exception.ValueError)

const demoBalance = 100

// demoRouters returns the methods served by "serve" and listed by "methods".
func demoRouters() []*rpc.Router {
	math := rpc.NewRouter(rpc.WithTags("math"))
	rpc.MustRegister(math, "sum", sumSchema, func(_ context.Context, _ *smartapp.SmartApp, a sumArgs) (message.Response, error) {
		return message.NewResult(a.First + a.Second), nil
	}, rpc.Returns("integer"))

	bank := rpc.NewRouter(rpc.WithTags("bank"), rpc.WithErrors(errAccountFrozen))
	rpc.MustRegister(bank, "transfer", transferSchema, func(_ context.Context, _ *smartapp.SmartApp, a transferArgs) (message.Response, error) {
		if a.Amount <= 0 {
			return nil, exception.Newf(errInvalidAmount, "amount must be positive, got %v", a.Amount)
		}
		if a.Amount > demoBalance {
			return nil, exception.Declared(errNotEnoughMoney, map[string]any{"missing": a.Amount - demoBalance})
		}
		return message.NewResult(map[string]any{"to": a.To.String(), "amount": a.Amount, "note": a.Note}), nil
	}, rpc.WithErrors(errNotEnoughMoney), rpc.Returns("object"))

	chat := rpc.NewRouter(rpc.WithTags("chat"))
	if err := chat.HandleNoArgs("ping", func(context.Context, *smartapp.SmartApp) (message.Response, error) {
		return message.NewResult("pong"), nil
	}, rpc.Returns("string")); err != nil {
		panic(err)
	}
	rpc.MustRegister(chat, "notify", notifySchema, func(ctx context.Context, sa *smartapp.SmartApp, a notifyArgs) (message.Response, error) {
		if err := sa.SendPush(ctx, a.Counter, a.Body); err != nil {
			return nil, fmt.Errorf("send push: %w", err)
		}
		return message.NewResult(true), nil
	}, rpc.Returns("boolean"))
	if err := chat.HandleNoArgs("debug.panic", func(context.Context, *smartapp.SmartApp) (message.Response, error) {
		panic("demo panic")
	}, rpc.Hidden()); err != nil {
		panic(err)
	}

	return []*rpc.Router{math, bank, chat}
}

// invalidAmountHandler reports InvalidAmount as a client error instead of
// an internal one.
func invalidAmountHandler(_ context.Context, err error, _ *smartapp.SmartApp) (*message.ErrorResponse, error) {
	return message.NewError(message.NewErrorDetail(err.Error(), "INVALID_AMOUNT", nil)), nil
}

func demoExceptionHandlers() exception.Handlers {
	return exception.Handlers{errInvalidAmount: invalidAmountHandler}
}
